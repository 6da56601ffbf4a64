package bot

import (
	"fmt"
	"strings"

	"news_dispatch/internal/model"
)

// ParseLogin validates a Yandex Messenger login typed by the user.
// Surrounding quotes or angle brackets are stripped.
func ParseLogin(text string) (string, error) {
	login := strings.Trim(strings.TrimSpace(text), `"'<>`)
	if login == "" {
		return "", fmt.Errorf("%w: empty login", model.ErrContent)
	}
	if strings.ContainsAny(login, " \t\n") || strings.HasPrefix(login, "/") {
		return "", fmt.Errorf("%w: invalid login %q", model.ErrContent, login)
	}
	return login, nil
}

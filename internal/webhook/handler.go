package webhook

import (
	"io"
	"log/slog"
	"net/http"

	"news_dispatch/internal/metrics"
	"news_dispatch/internal/yandex"
)

const maxBodySize = 1 << 20

type submitter interface {
	Submit(u yandex.Update) bool
}

// Handler accepts webhook posts. It answers 200 {"ok":true} to every
// request, including malformed ones, so the platform never retries.
type Handler struct {
	queue submitter
	log   *slog.Logger
}

// NewHandler creates a Handler feeding queue.
func NewHandler(queue submitter, log *slog.Logger) *Handler {
	return &Handler{queue: queue, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer writeOK(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		metrics.WebhookUpdates.WithLabelValues("invalid").Inc()
		h.log.Warn("read webhook body", "error", err)
		return
	}
	updates, err := yandex.ParseUpdates(body)
	if err != nil {
		metrics.WebhookUpdates.WithLabelValues("invalid").Inc()
		h.log.Warn("invalid webhook body", "error", err, "size", len(body))
		return
	}

	for _, u := range updates {
		h.accept(u)
	}
}

func (h *Handler) accept(u yandex.Update) {
	if !h.queue.Submit(u) {
		metrics.WebhookUpdates.WithLabelValues("dropped").Inc()
		h.log.Warn("webhook queue full, update dropped", "update_id", u.UpdateID, "login", u.From.Login)
		return
	}
	metrics.WebhookUpdates.WithLabelValues("queued").Inc()
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"ok":true}`)
}

// Package config handles application configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"news_dispatch/internal/model"
)

// Source kinds.
const (
	SourceHRPortal = "hr_portal"
	SourceRSS      = "rss"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `koanf:"telegram_bot_token"`
	TelegramBotURL   string `koanf:"telegram_bot_url"`

	// TelegramRelayChannelID is the channel whose posts are forwarded to
	// Messenger subscribers, 0 to disable.
	TelegramRelayChannelID int64 `koanf:"telegram_relay_channel_id"`

	YandexBotToken      string `koanf:"yandex_bot_token"`
	YandexAPIURL        string `koanf:"yandex_api_url"`
	YandexWebhookURL    string `koanf:"yandex_webhook_url"`
	YandexOperatorLogin string `koanf:"yandex_operator_login"`

	SourceKind    string `koanf:"source_kind"`
	HRBaseURL     string `koanf:"hr_base_url"`
	HRAPIURL      string `koanf:"hr_api_url"`
	HRUsername    string `koanf:"hr_username"`
	HRPassword    string `koanf:"hr_password"`
	HRAPIToken    string `koanf:"hr_api_token"`
	RSSURL        string `koanf:"rss_url"`
	RSSSourceCode string `koanf:"rss_source_code"`
	RSSIDPrefix   string `koanf:"rss_id_prefix"`

	DatabasePath string `koanf:"database_path"`
	LogLevel     string `koanf:"log_level"`
	HTTPAddr     string `koanf:"http_addr"`
	RedisURL     string `koanf:"redis_url"`

	CheckInterval time.Duration `koanf:"check_interval"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
	DedupeTTL     time.Duration `koanf:"dedupe_ttl"`

	FanoutWorkers    int     `koanf:"fanout_workers"`
	FanoutRate       float64 `koanf:"fanout_rate"`
	WebhookWorkers   int     `koanf:"webhook_workers"`
	WebhookQueueSize int     `koanf:"webhook_queue_size"`

	AllowedUsers []int64        `koanf:"-"`
	Filters      []model.Filter `koanf:"filters"`
}

var defaults = map[string]any{
	"yandex_api_url":     "https://botapi.messenger.yandex.net/bot/v1",
	"source_kind":        SourceHRPortal,
	"rss_source_code":    "rss",
	"rss_id_prefix":      "rss",
	"database_path":      "./data/news.db",
	"log_level":          "info",
	"http_addr":          ":8080",
	"check_interval":     "60s",
	"session_ttl":        "10m",
	"dedupe_ttl":         "24h",
	"fanout_workers":     16,
	"fanout_rate":        20.0,
	"webhook_workers":    4,
	"webhook_queue_size": 256,
}

// envKeys are the environment variables mapped onto configuration keys.
// The key is the lower-cased variable name.
var envKeys = []string{
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_URL", "TELEGRAM_RELAY_CHANNEL_ID",
	"YANDEX_BOT_TOKEN", "YANDEX_API_URL", "YANDEX_WEBHOOK_URL", "YANDEX_OPERATOR_LOGIN",
	"SOURCE_KIND", "HR_BASE_URL", "HR_API_URL", "HR_USERNAME", "HR_PASSWORD", "HR_API_TOKEN",
	"RSS_URL", "RSS_SOURCE_CODE", "RSS_ID_PREFIX",
	"DATABASE_PATH", "LOG_LEVEL", "HTTP_ADDR", "REDIS_URL",
	"CHECK_INTERVAL", "SESSION_TTL", "DEDUPE_TTL",
	"FANOUT_WORKERS", "FANOUT_RATE", "WEBHOOK_WORKERS", "WEBHOOK_QUEUE_SIZE",
	"ALLOWED_USERS",
}

// Load reads configuration from an optional .env file, the YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: load %s: %w", model.ErrConfiguration, path, err)
		}
	}

	for _, name := range envKeys {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			if err := k.Set(strings.ToLower(name), v); err != nil {
				return nil, fmt.Errorf("set %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", model.ErrConfiguration, err)
	}

	users, err := parseAllowedUsers(k.Get("allowed_users"))
	if err != nil {
		return nil, err
	}
	cfg.AllowedUsers = users

	if cfg.HRBaseURL == "" {
		cfg.HRBaseURL = cfg.HRAPIURL
	}
	cfg.HRBaseURL = strings.TrimRight(cfg.HRBaseURL, "/")
	cfg.HRAPIURL = strings.TrimRight(cfg.HRAPIURL, "/")
	cfg.YandexAPIURL = strings.TrimRight(cfg.YandexAPIURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.YandexBotToken == "" {
		missing = append(missing, "YANDEX_BOT_TOKEN")
	}
	switch c.SourceKind {
	case SourceHRPortal:
		if c.HRAPIURL == "" {
			missing = append(missing, "HR_API_URL")
		}
	case SourceRSS:
		if c.RSSURL == "" {
			missing = append(missing, "RSS_URL")
		}
	default:
		return fmt.Errorf("%w: unknown SOURCE_KIND %q", model.ErrConfiguration, c.SourceKind)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", model.ErrConfiguration, strings.Join(missing, ", "))
	}

	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: CHECK_INTERVAL must be positive", model.ErrConfiguration)
	}
	if c.FanoutWorkers < 1 || c.WebhookWorkers < 1 || c.WebhookQueueSize < 1 {
		return fmt.Errorf("%w: worker and queue sizes must be positive", model.ErrConfiguration)
	}
	if c.FanoutRate <= 0 {
		return fmt.Errorf("%w: FANOUT_RATE must be positive", model.ErrConfiguration)
	}
	return nil
}

// parseAllowedUsers accepts a comma-separated string (env) or a YAML list.
func parseAllowedUsers(raw any) ([]int64, error) {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
	default:
		parts = []string{fmt.Sprint(v)}
	}

	var users []int64
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid user ID %q in ALLOWED_USERS: %w", model.ErrConfiguration, s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

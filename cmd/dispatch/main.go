package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"news_dispatch/internal/bot"
	"news_dispatch/internal/config"
	"news_dispatch/internal/dispatcher"
	"news_dispatch/internal/fanout"
	"news_dispatch/internal/filter"
	"news_dispatch/internal/model"
	"news_dispatch/internal/session"
	"news_dispatch/internal/source"
	"news_dispatch/internal/source/hrportal"
	"news_dispatch/internal/source/rss"
	"news_dispatch/internal/storage"
	"news_dispatch/internal/webhook"
	"news_dispatch/internal/yandex"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessions, dedupe, closeState, err := newStateStores(ctx, cfg)
	if err != nil {
		log.Error("open session store", "error", err)
		os.Exit(1)
	}
	defer closeState()

	src, err := newSource(cfg, log)
	if err != nil {
		log.Error("create source", "error", err)
		os.Exit(1)
	}

	rules, err := filter.New(cfg.Filters)
	if err != nil {
		log.Error("compile filters", "error", err)
		os.Exit(1)
	}

	b, err := bot.New(cfg.TelegramBotToken, store, sessions, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	yx := yandex.NewClient(cfg.YandexAPIURL, cfg.YandexBotToken, &http.Client{Timeout: 30 * time.Second})

	fanoutOpts := fanout.Options{Workers: cfg.FanoutWorkers, Rate: cfg.FanoutRate, Retries: 2}
	telegramOut := fanout.New(model.ChannelTelegram, b.Sender(), fanoutOpts, log)
	yandexOut := fanout.New(model.ChannelYandex, yandex.NewSender(yx, yandex.Keyboard(cfg.TelegramBotURL), log), fanoutOpts, log)

	if cfg.TelegramRelayChannelID != 0 {
		b.RelayChannel(cfg.TelegramRelayChannelID, yandexOut)
		log.Info("channel relay enabled", "channel_id", cfg.TelegramRelayChannelID)
	}

	disp := dispatcher.New(src, store, []dispatcher.Channel{
		{Name: model.ChannelTelegram, Fanout: telegramOut, Format: bot.FormatNotification},
		{Name: model.ChannelYandex, Fanout: yandexOut, Format: yandex.FormatNotification},
	}, dispatcher.Options{Interval: cfg.CheckInterval, Filter: rules}, log)

	router := webhook.NewCommandRouter(store, yandexOut, webhook.NewRelay(yx, yandexOut, cfg.YandexOperatorLogin, log), log)
	queue := webhook.NewQueue(cfg.WebhookQueueSize, cfg.WebhookWorkers, dedupe, router.Handle, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           webhook.NewRouter(webhook.NewHandler(queue, log), store, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting service", "source", src.Code(), "http_addr", cfg.HTTPAddr)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { disp.Run(ctx) })
	run(func() { queue.Run(ctx) })
	run(func() { b.Run(ctx) })
	run(func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			cancel()
		}
	})

	if cfg.YandexWebhookURL != "" {
		if err := yx.SetWebhook(ctx, cfg.YandexWebhookURL); err != nil {
			log.Error("register webhook", "url", cfg.YandexWebhookURL, "error", err)
		} else {
			log.Info("webhook registered", "url", cfg.YandexWebhookURL)
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown http server", "error", err)
	}

	wg.Wait()
	log.Info("service stopped")
}

func newSource(cfg *config.Config, log *slog.Logger) (source.Source, error) {
	switch cfg.SourceKind {
	case config.SourceRSS:
		client := &http.Client{Timeout: 30 * time.Second}
		return rss.New(rss.Options{URL: cfg.RSSURL, Code: cfg.RSSSourceCode, IDPrefix: cfg.RSSIDPrefix}, client, log), nil
	default:
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client := &http.Client{Timeout: 30 * time.Second, Jar: jar}
		return hrportal.New(hrportal.Options{
			BaseURL:  cfg.HRBaseURL,
			APIURL:   cfg.HRAPIURL,
			Username: cfg.HRUsername,
			Password: cfg.HRPassword,
			Token:    cfg.HRAPIToken,
		}, client, log), nil
	}
}

// newStateStores returns Redis backed stores when REDIS_URL is set and
// process-local ones otherwise.
func newStateStores(ctx context.Context, cfg *config.Config) (session.Store, session.Deduper, func(), error) {
	if cfg.RedisURL == "" {
		return session.NewMemory(cfg.SessionTTL, 0), session.NewMemoryDeduper(cfg.DedupeTTL, 0), func() {}, nil
	}
	r, err := session.NewRedis(ctx, cfg.RedisURL, "news_dispatch:", cfg.SessionTTL, cfg.DedupeTTL)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, r, func() { _ = r.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

package webhook

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"news_dispatch/internal/metrics"
	"news_dispatch/internal/session"
	"news_dispatch/internal/yandex"
)

const defaultUpdateTimeout = 30 * time.Second

// HandleFunc processes one update.
type HandleFunc func(ctx context.Context, u yandex.Update) error

// Queue is a bounded buffer of accepted updates drained by a fixed number
// of workers. A failing or panicking update never stops a worker.
// Redelivered updates are skipped by the worker that picks them up, so an
// update dropped on a full queue is still processed when it comes again.
type Queue struct {
	updates chan yandex.Update
	workers int
	timeout time.Duration
	dedupe  session.Deduper
	handle  HandleFunc
	log     *slog.Logger
}

// NewQueue creates a Queue holding up to size updates. A nil dedupe
// processes repeated updates again.
func NewQueue(size, workers int, dedupe session.Deduper, handle HandleFunc, log *slog.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		updates: make(chan yandex.Update, size),
		workers: workers,
		timeout: defaultUpdateTimeout,
		dedupe:  dedupe,
		handle:  handle,
		log:     log,
	}
}

// Submit enqueues u without blocking. It returns false when the queue is
// full.
func (q *Queue) Submit(u yandex.Update) bool {
	select {
	case q.updates <- u:
		metrics.WebhookQueueDepth.Inc()
		return true
	default:
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// worker has finished its current update.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for range q.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-q.updates:
			metrics.WebhookQueueDepth.Dec()
			q.process(ctx, u)
		}
	}
}

func (q *Queue) process(ctx context.Context, u yandex.Update) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WebhookUpdates.WithLabelValues("failed").Inc()
			q.log.Error("panic in update handler", "update_id", u.UpdateID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if !q.firstDelivery(ctx, u) {
		metrics.WebhookUpdates.WithLabelValues("duplicate").Inc()
		q.log.Debug("duplicate update skipped", "update_id", u.UpdateID)
		return
	}
	if err := q.handle(ctx, u); err != nil {
		metrics.WebhookUpdates.WithLabelValues("failed").Inc()
		q.log.Error("process update", "update_id", u.UpdateID, "login", u.From.Login, "error", err)
		return
	}
	metrics.WebhookUpdates.WithLabelValues("processed").Inc()
}

// firstDelivery reports whether u has not been processed before. Updates
// without an id and dedupe failures count as first deliveries.
func (q *Queue) firstDelivery(ctx context.Context, u yandex.Update) bool {
	if q.dedupe == nil || u.UpdateID == 0 {
		return true
	}
	first, err := q.dedupe.MarkOnce(ctx, session.Key("yandex", strconv.FormatInt(u.UpdateID, 10)))
	if err != nil {
		q.log.Warn("dedupe update", "update_id", u.UpdateID, "error", err)
		return true
	}
	return first
}

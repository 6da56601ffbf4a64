// Package dispatcher runs the reconciliation loop that moves new items from
// a content source to every active subscriber.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"news_dispatch/internal/fanout"
	"news_dispatch/internal/filter"
	"news_dispatch/internal/metrics"
	"news_dispatch/internal/model"
	"news_dispatch/internal/source"
	"news_dispatch/internal/storage"
)

// Pass outcomes.
const (
	OutcomeDelivered  = "ok"
	OutcomeEmpty      = "empty"
	OutcomeFetchError = "fetch_error"
	OutcomeCASLost    = "cas_lost"
	OutcomeStoreError = "store_error"
)

// Store is the subset of storage the dispatcher needs.
type Store interface {
	storage.WatermarkStore
	ActiveRecipients(ctx context.Context, ch model.Channel) ([]string, error)
}

// Broadcaster delivers one message to many recipients of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string, recipients []string) fanout.Result
}

// Channel binds a channel to its fan-out and its message format.
type Channel struct {
	Name   model.Channel
	Fanout Broadcaster
	Format func(model.NewsItem) string
}

// Options configures a Dispatcher.
type Options struct {
	Interval time.Duration
	Filter   *filter.Engine
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Outcome   string
	From      string
	To        string
	Fetched   int
	Delivered int
	Filtered  int
	Sends     map[model.Channel]fanout.Result
}

// Dispatcher periodically reconciles a content source with subscribers.
type Dispatcher struct {
	src      source.Source
	store    Store
	channels []Channel
	opts     Options
	log      *slog.Logger
}

// New creates a Dispatcher.
func New(src source.Source, store Store, channels []Channel, opts Options, log *slog.Logger) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Dispatcher{
		src:      src,
		store:    store,
		channels: channels,
		opts:     opts,
		log:      log.With("source", src.Code()),
	}
}

// Init stores the default watermark of the source unless one exists.
func (d *Dispatcher) Init(ctx context.Context) error {
	return d.store.InitWatermark(ctx, d.src.Code(), d.src.DefaultID())
}

// Run executes passes until ctx is cancelled. A pass is never interrupted;
// cancellation is observed while sleeping between passes.
func (d *Dispatcher) Run(ctx context.Context) {
	if err := d.Init(ctx); err != nil {
		d.log.Error("init watermark", "error", err)
	}
	d.log.Info("dispatcher started", "interval", d.opts.Interval, "channels", len(d.channels), "filters", d.opts.Filter.Len())

	for {
		d.RunOnce(ctx)

		t := time.NewTimer(d.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			d.log.Info("dispatcher stopped")
			return
		case <-t.C:
		}
	}
}

// RunOnce performs a single pass. Errors are logged and reflected in the
// outcome; they never escape the pass. Once the watermark has moved the
// pass delivers every item regardless of ctx; only individual sends are
// bounded, by the fan-out.
func (d *Dispatcher) RunOnce(ctx context.Context) PassResult {
	start := time.Now()
	log := d.log.With("pass_id", uuid.NewString())
	res := d.pass(context.WithoutCancel(ctx), log)

	metrics.PassesTotal.WithLabelValues(d.src.Code(), res.Outcome).Inc()
	metrics.PassDuration.WithLabelValues(d.src.Code()).Observe(time.Since(start).Seconds())
	return res
}

func (d *Dispatcher) pass(ctx context.Context, log *slog.Logger) PassResult {
	code := d.src.Code()

	last, ok, err := d.store.GetLastID(ctx, code)
	if err != nil {
		log.Error("read watermark", "error", err)
		return PassResult{Outcome: OutcomeStoreError}
	}
	if !ok {
		if err := d.Init(ctx); err != nil {
			log.Error("init watermark", "error", err)
			return PassResult{Outcome: OutcomeStoreError}
		}
		last = d.src.DefaultID()
	}
	res := PassResult{From: last, To: last}

	items, err := d.src.FetchDelta(ctx, last)
	if err != nil {
		log.Warn("fetch delta", "last_id", last, "error", err)
		res.Outcome = OutcomeFetchError
		return res
	}
	items = ordered(items, last, log)
	res.Fetched = len(items)
	if len(items) == 0 {
		log.Debug("no new items", "last_id", last)
		res.Outcome = OutcomeEmpty
		return res
	}

	maxID := items[len(items)-1].ID
	advanced, err := d.store.AdvanceWatermark(ctx, code, maxID, last)
	if err != nil {
		if errors.Is(err, storage.ErrNotMonotonic) {
			log.Warn("watermark regression rejected", "last_id", last, "max_id", maxID, "error", err)
		} else {
			log.Error("advance watermark", "last_id", last, "max_id", maxID, "error", err)
		}
		res.Outcome = OutcomeStoreError
		return res
	}
	if !advanced {
		log.Info("watermark moved by another pass, skipping", "last_id", last, "max_id", maxID)
		res.Outcome = OutcomeCASLost
		return res
	}
	res.To = maxID

	deliver := d.opts.Filter.Apply(items)
	res.Filtered = len(items) - len(deliver)
	metrics.ItemsDispatched.WithLabelValues(code, "filtered").Add(float64(res.Filtered))

	res.Sends = make(map[model.Channel]fanout.Result, len(d.channels))
	for _, item := range deliver {
		for ch, r := range d.deliverItem(ctx, item, log) {
			sum := res.Sends[ch]
			sum.Delivered += r.Delivered
			sum.Failed += r.Failed
			res.Sends[ch] = sum
		}
		res.Delivered++
		metrics.ItemsDispatched.WithLabelValues(code, "delivered").Inc()
	}

	res.Outcome = OutcomeDelivered
	log.Info("pass complete", "from", res.From, "to", res.To, "items", res.Delivered, "filtered", res.Filtered)
	return res
}

// deliverItem fans item out to all channels concurrently and returns once
// every channel is done.
func (d *Dispatcher) deliverItem(ctx context.Context, item model.NewsItem, log *slog.Logger) map[model.Channel]fanout.Result {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[model.Channel]fanout.Result, len(d.channels))
	)
	for _, ch := range d.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recipients, err := d.store.ActiveRecipients(ctx, ch.Name)
			if err != nil {
				log.Error("read recipients", "channel", ch.Name, "news_id", item.ID, "error", err)
				return
			}
			r := ch.Fanout.Broadcast(ctx, ch.Format(item), recipients)
			log.Debug("item broadcast", "channel", ch.Name, "news_id", item.ID, "delivered", r.Delivered, "failed", r.Failed)

			mu.Lock()
			out[ch.Name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// ordered drops items that are malformed or not newer than last and sorts
// the rest by their numeric suffix.
func ordered(items []model.NewsItem, last string, log *slog.Logger) []model.NewsItem {
	type numbered struct {
		n    int64
		item model.NewsItem
	}
	keep := make([]numbered, 0, len(items))
	for _, it := range items {
		c, err := model.CompareNewsIDs(it.ID, last)
		if err != nil {
			log.Warn("skipping malformed item", "news_id", it.ID, "error", err)
			continue
		}
		if c <= 0 {
			continue
		}
		_, n, _ := model.ParseNewsID(it.ID)
		keep = append(keep, numbered{n: n, item: it})
	}
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].n < keep[j].n })

	out := make([]model.NewsItem, len(keep))
	for i, k := range keep {
		out[i] = k.item
	}
	return out
}

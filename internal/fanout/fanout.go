// Package fanout delivers one message to many recipients of a channel with
// bounded concurrency and a per-channel rate limit.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"news_dispatch/internal/metrics"
	"news_dispatch/internal/model"
)

// Sender sends a single message to a single recipient of one channel.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// Options configures a Broadcaster.
type Options struct {
	// Workers bounds concurrent sends, 1 when zero.
	Workers int
	// Rate is the sustained sends per second, unlimited when zero.
	Rate float64
	// Retries is the number of extra attempts after a failed Deliver.
	Retries int
	// RetryDelay is the base backoff between attempts.
	RetryDelay time.Duration
	// SendTimeout bounds a single send call. Waiting for the rate
	// limiter does not count against it.
	SendTimeout time.Duration
}

// Result summarizes one broadcast.
type Result struct {
	Delivered int
	Failed    int
}

// Broadcaster fans a message out to the recipients of one channel.
type Broadcaster struct {
	channel model.Channel
	sender  Sender
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
}

// New creates a Broadcaster for channel ch.
func New(ch model.Channel, sender Sender, opts Options, logger *slog.Logger) *Broadcaster {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	var lim *rate.Limiter
	if opts.Rate > 0 {
		burst := int(opts.Rate)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return &Broadcaster{
		channel: ch,
		sender:  sender,
		limiter: lim,
		opts:    opts,
		logger:  logger.With("channel", string(ch)),
	}
}

// Broadcast sends text to every distinct recipient. Individual failures are
// counted and logged but never abort the batch.
func (b *Broadcaster) Broadcast(ctx context.Context, text string, recipients []string) Result {
	targets := unique(recipients)
	if len(targets) == 0 {
		return Result{}
	}

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(b.opts.Workers)

	for _, r := range targets {
		g.Go(func() error {
			if err := b.send(ctx, r, text, 0); err != nil {
				failed.Add(1)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
	if res.Failed > 0 {
		b.logger.Warn("broadcast finished with failures", "total", len(targets), "delivered", res.Delivered, "failed", res.Failed)
	} else {
		b.logger.Debug("broadcast finished", "total", len(targets), "delivered", res.Delivered)
	}
	return res
}

// Deliver sends text to a single recipient through the rate limiter,
// retrying failed attempts up to Options.Retries times. Broadcast never
// retries; a failed recipient simply misses that message.
func (b *Broadcaster) Deliver(ctx context.Context, recipient, text string) error {
	return b.send(ctx, recipient, text, b.opts.Retries)
}

func (b *Broadcaster) send(ctx context.Context, recipient, text string, retries int) error {
	var last error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := b.opts.RetryDelay * time.Duration(attempt)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return b.fail(recipient, ctx.Err())
			case <-t.C:
			}
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return b.fail(recipient, err)
			}
		}
		if last = b.sendOnce(ctx, recipient, text); last == nil {
			metrics.FanoutSends.WithLabelValues(string(b.channel), "ok").Inc()
			return nil
		}
		b.logger.Debug("send attempt failed", "recipient", recipient, "attempt", attempt+1, "error", last)
	}
	return b.fail(recipient, last)
}

func (b *Broadcaster) sendOnce(ctx context.Context, recipient, text string) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.SendTimeout)
	defer cancel()
	return b.sender.Send(ctx, recipient, text)
}

func (b *Broadcaster) fail(recipient string, err error) error {
	metrics.FanoutSends.WithLabelValues(string(b.channel), "error").Inc()
	b.logger.Debug("send failed", "recipient", recipient, "error", err)
	return fmt.Errorf("send to %s via %s: %w", recipient, b.channel, err)
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

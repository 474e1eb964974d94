// Package poller runs a fetch function on a fixed interval. A tick never
// overlaps the previous one, a failed fetch is logged and skipped, and the
// loop keeps going until stopped.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/artifact-sync/pkg/logger"
	"github.com/capitalize-ai/artifact-sync/pkg/metrics"
)

// Options configures a poller.
type Options struct {
	// Name labels logs and metrics.
	Name string
	// Interval between ticks.
	Interval time.Duration
	// Immediate runs the first tick on start instead of after Interval.
	Immediate bool
}

// Handle controls a running poller.
type Handle struct {
	name    string
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
	once    sync.Once
}

// Start launches the poll loop. fetch runs on every tick; onResult receives
// each successful result on the same goroutine, so neither needs its own
// locking against the next tick. Neither may call Stop.
func Start[T any](
	ctx context.Context,
	opts Options,
	fetch func(ctx context.Context) (T, error),
	onResult func(T),
	log *logger.Logger,
) *Handle {
	if opts.Interval <= 0 {
		panic(fmt.Sprintf("poller %q: interval must be positive", opts.Name))
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		name:    opts.Name,
		cancel:  cancel,
		done:    make(chan struct{}),
		trigger: make(chan struct{}, 1),
	}
	log = log.With(zap.String("poller", opts.Name))

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		if opts.Immediate {
			tick(ctx, opts.Name, fetch, onResult, log)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-h.trigger:
			}

			tick(ctx, opts.Name, fetch, onResult, log)

			// Ticks that fell due while the fetch was running are dropped.
			select {
			case <-ticker.C:
			default:
			}
		}
	}()

	return h
}

// Trigger requests an extra tick as soon as the current one (if any)
// finishes. Multiple requests before that tick collapse into one.
func (h *Handle) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Name returns the poller's name.
func (h *Handle) Name() string {
	return h.name
}

func tick[T any](
	ctx context.Context,
	name string,
	fetch func(ctx context.Context) (T, error),
	onResult func(T),
	log *logger.Logger,
) {
	start := time.Now()

	v, err := safeFetch(ctx, fetch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordPoll(name, "error", time.Since(start).Seconds())
		log.Warn("poll failed", zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPoll(name, "panic", time.Since(start).Seconds())
			log.Error("poll result handler panicked", zap.Any("panic", r))
		}
	}()

	onResult(v)
	metrics.RecordPoll(name, "ok", time.Since(start).Seconds())
}

func safeFetch[T any](ctx context.Context, fetch func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return fetch(ctx)
}

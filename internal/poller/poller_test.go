package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

func TestPollerTicksUntilStopped(t *testing.T) {
	var calls atomic.Int32
	h := Start(context.Background(), Options{Name: "test", Interval: 5 * time.Millisecond},
		func(ctx context.Context) (int, error) {
			return int(calls.Add(1)), nil
		},
		func(int) {},
		logger.Nop(),
	)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no ticks after Stop")

	// second Stop is a no-op
	h.Stop()
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestPollerNeverOverlaps(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32
	h := Start(context.Background(), Options{Name: "slow", Interval: time.Millisecond},
		func(ctx context.Context) (struct{}, error) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			calls.Add(1)
			return struct{}{}, nil
		},
		func(struct{}) {},
		logger.Nop(),
	)
	defer h.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestPollerSkipsFailedTicks(t *testing.T) {
	var calls atomic.Int32
	results := make(chan int, 16)

	h := Start(context.Background(), Options{Name: "flaky", Interval: 2 * time.Millisecond},
		func(ctx context.Context) (int, error) {
			n := int(calls.Add(1))
			if n <= 2 {
				return 0, errors.New("backend unavailable")
			}
			return n, nil
		},
		func(v int) {
			select {
			case results <- v:
			default:
			}
		},
		logger.Nop(),
	)
	defer h.Stop()

	select {
	case v := <-results:
		assert.Equal(t, 3, v, "first successful result comes after the failures")
	case <-time.After(time.Second):
		t.Fatal("poller stopped after fetch errors")
	}
}

func TestPollerRecoversFromHandlerPanic(t *testing.T) {
	var handled atomic.Int32
	h := Start(context.Background(), Options{Name: "panicky", Interval: 2 * time.Millisecond},
		func(ctx context.Context) (int, error) { return 1, nil },
		func(int) {
			if handled.Add(1) == 1 {
				panic("boom")
			}
		},
		logger.Nop(),
	)
	defer h.Stop()

	require.Eventually(t, func() bool { return handled.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestPollerTriggerAndImmediate(t *testing.T) {
	var calls atomic.Int32
	h := Start(context.Background(), Options{Name: "manual", Interval: time.Hour, Immediate: true},
		func(ctx context.Context) (int, error) { return int(calls.Add(1)), nil },
		func(int) {},
		logger.Nop(),
	)
	defer h.Stop()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	h.Trigger()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestPollerStopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, Options{Name: "ctx", Interval: time.Millisecond},
		func(ctx context.Context) (int, error) { return 0, nil },
		func(int) {},
		logger.Nop(),
	)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not exit after context cancel")
	}
}

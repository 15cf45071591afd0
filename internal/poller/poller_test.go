package poller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/htrap1211/GraphX-OSINT/internal/poller"
)

type pollRecorder struct {
	mu    sync.Mutex
	ticks map[string]int
	fails map[string]int
}

func (r *pollRecorder) RecordPoll(loop string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticks == nil {
		r.ticks = map[string]int{}
		r.fails = map[string]int{}
	}
	r.ticks[loop]++
	if err != nil {
		r.fails[loop]++
	}
}

func (r *pollRecorder) get(loop string) (ticks, fails int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks[loop], r.fails[loop]
}

func TestPoller_RunsLoopsIndependently(t *testing.T) {
	defer goleak.VerifyNone(t)

	var jobTicks, graphTicks atomic.Int32
	rec := &pollRecorder{}
	p, err := poller.New(zaptest.NewLogger(t), rec,
		poller.Loop{Name: "job", Interval: 5 * time.Millisecond, Tick: func(context.Context) error {
			jobTicks.Add(1)
			return nil
		}},
		poller.Loop{Name: "graph", Interval: 5 * time.Millisecond, Tick: func(context.Context) error {
			graphTicks.Add(1)
			return errors.New("backend unavailable")
		}},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return jobTicks.Load() >= 3 && graphTicks.Load() >= 3
	}, 2*time.Second, time.Millisecond, "a failing loop must keep ticking")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, jobFails := rec.get("job")
	graphTickCount, graphFails := rec.get("graph")
	assert.Zero(t, jobFails)
	assert.Equal(t, graphTickCount, graphFails)
}

func TestPoller_TicksNeverOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, maxInFlight, ticks atomic.Int32
	p, err := poller.New(zaptest.NewLogger(t), nil, poller.Loop{
		Name:     "graph",
		Interval: time.Millisecond,
		Tick: func(ctx context.Context) error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			ticks.Add(1)
			select {
			case <-time.After(10 * time.Millisecond): // slower than the interval
			case <-ctx.Done():
			}
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	// Kicks while a tick is in flight must not start a second one.
	for i := 0; i < 20; i++ {
		p.Trigger("graph")
		time.Sleep(time.Millisecond)
	}
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestPoller_Trigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	ticked := make(chan struct{}, 10)
	p, err := poller.New(zaptest.NewLogger(t), nil, poller.Loop{
		Name:     "graph",
		Interval: time.Hour,
		Tick: func(context.Context) error {
			ticked <- struct{}{}
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	<-ticked // immediate first tick
	assert.True(t, p.Trigger("graph"))
	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("Trigger did not cause an immediate tick")
	}
	assert.False(t, p.Trigger("unknown"))

	cancel()
	<-done
}

func TestPoller_RejectsSecondRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	var once sync.Once
	p, err := poller.New(nil, nil, poller.Loop{Name: "job", Interval: time.Hour, Tick: func(context.Context) error {
		once.Do(func() { close(started) })
		return nil
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	<-started

	err = p.Run(ctx)
	assert.EqualError(t, err, "poller is already running")
	cancel()
	<-done
}

func TestNew_Validation(t *testing.T) {
	tick := func(context.Context) error { return nil }
	testCases := []struct {
		name  string
		loops []poller.Loop
		want  string
	}{
		{"missing name", []poller.Loop{{Interval: time.Second, Tick: tick}}, "poll loop must have a name"},
		{"zero interval", []poller.Loop{{Name: "job", Tick: tick}}, "poll loop 'job' must have a positive interval"},
		{"nil tick", []poller.Loop{{Name: "job", Interval: time.Second}}, "poll loop 'job' has no tick function"},
		{"duplicate", []poller.Loop{
			{Name: "job", Interval: time.Second, Tick: tick},
			{Name: "job", Interval: time.Second, Tick: tick},
		}, "duplicate poll loop 'job'"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := poller.New(nil, nil, tc.loops...)
			assert.EqualError(t, err, tc.want)
		})
	}
}

func TestNextDelay(t *testing.T) {
	const interval = 2 * time.Second
	testCases := []struct {
		name       string
		maxBackoff time.Duration
		failures   int
		want       time.Duration
	}{
		{"backoff disabled", 0, 5, interval},
		{"cap below interval", time.Second, 5, interval},
		{"no failures", time.Minute, 0, interval},
		{"one failure doubles", time.Minute, 1, 4 * time.Second},
		{"three failures", time.Minute, 3, 16 * time.Second},
		{"capped", 10 * time.Second, 3, 10 * time.Second},
		{"many failures stay capped", time.Minute, 200, time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, poller.NextDelay(interval, tc.maxBackoff, tc.failures))
		})
	}
}

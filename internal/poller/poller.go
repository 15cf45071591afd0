// Package poller runs the workspace's periodic fetch loops. Each loop ticks
// sequentially: the next fetch is only issued after the previous one returned,
// so requests for the same resource never overlap.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TickFunc performs one fetch-and-apply cycle. A returned error is logged and
// counted but never stops the loop.
type TickFunc func(ctx context.Context) error

// Recorder receives per-tick telemetry. *metrics.Registry implements it.
type Recorder interface {
	RecordPoll(loop string, err error)
}

// Loop describes one periodic fetch.
type Loop struct {
	Name     string
	Interval time.Duration
	// MaxBackoff caps the wait after consecutive failures. Zero keeps the interval fixed.
	MaxBackoff time.Duration
	Tick       TickFunc
}

// Poller supervises a set of loops until its context is cancelled.
type Poller struct {
	loops    []Loop
	kicks    map[string]chan struct{}
	recorder Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
}

// New validates the loops and returns a poller ready to Run.
func New(logger *zap.Logger, recorder Recorder, loops ...Loop) (*Poller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		loops:    make([]Loop, 0, len(loops)),
		kicks:    make(map[string]chan struct{}, len(loops)),
		recorder: recorder,
		logger:   logger.Named("Poller"),
	}
	for _, l := range loops {
		if l.Name == "" {
			return nil, errors.New("poll loop must have a name")
		}
		if _, dup := p.kicks[l.Name]; dup {
			return nil, fmt.Errorf("duplicate poll loop '%s'", l.Name)
		}
		if l.Interval <= 0 {
			return nil, fmt.Errorf("poll loop '%s' must have a positive interval", l.Name)
		}
		if l.Tick == nil {
			return nil, fmt.Errorf("poll loop '%s' has no tick function", l.Name)
		}
		p.loops = append(p.loops, l)
		// One pending kick is enough; further kicks coalesce into it.
		p.kicks[l.Name] = make(chan struct{}, 1)
	}
	return p, nil
}

// Run starts every loop and blocks until ctx is cancelled and all loops have
// returned. Each loop ticks once immediately, then after every interval.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("poller is already running")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range p.loops {
		loop := l
		g.Go(func() error {
			p.run(gctx, loop)
			return nil
		})
	}
	return g.Wait()
}

// Trigger requests an immediate tick of the named loop. If a tick is in flight
// the request is served right after it completes. Unknown names are ignored.
func (p *Poller) Trigger(name string) bool {
	ch, ok := p.kicks[name]
	if !ok {
		return false
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return true
}

func (p *Poller) run(ctx context.Context, loop Loop) {
	logger := p.logger.With(zap.String("loop", loop.Name))
	logger.Debug("Poll loop started", zap.Duration("interval", loop.Interval))
	defer logger.Debug("Poll loop stopped")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	failures := 0
	for {
		err := loop.Tick(ctx)
		if ctx.Err() != nil {
			return
		}
		if p.recorder != nil {
			p.recorder.RecordPoll(loop.Name, err)
		}
		if err != nil {
			failures++
			logger.Warn("Poll tick failed", zap.Error(err), zap.Int("consecutive_failures", failures))
		} else {
			failures = 0
		}

		delay := NextDelay(loop.Interval, loop.MaxBackoff, failures)
		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.kicks[loop.Name]:
			timer.Stop()
		}
	}
}

// NextDelay returns the wait before the next tick. With backoff disabled, or
// maxBackoff not above the interval, it is always interval. Otherwise each
// consecutive failure doubles the wait, up to maxBackoff.
func NextDelay(interval, maxBackoff time.Duration, failures int) time.Duration {
	if maxBackoff <= interval || failures <= 0 {
		return interval
	}
	d := interval
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff || d <= 0 {
			return maxBackoff
		}
	}
	return d
}

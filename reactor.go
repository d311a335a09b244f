// Package nbpoll is a single-threaded reactor: it multiplexes descriptor
// readiness, runs deferred calls and closes pollables that outlive their
// deadline.
//
// Everything runs on the goroutine that calls Run. Callbacks may attach,
// detach, close and reconfigure any pollable, including the one being
// dispatched, but no method may be called from another goroutine.
package nbpoll

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/rocinan/nbpoll/poller"
	"github.com/sirupsen/logrus"
)

type Reactor struct {
	loop     *poller.EventLoop
	registry *registry
	watchdog *periodic
	logger   logrus.FieldLogger
	metrics  metrics
	closed   bool
}

// New creates a reactor whose watchdog is already armed.
func New(cfg Config) (*Reactor, error) {
	cfg = cfg.withDefaults()
	loop, err := poller.Create(poller.Config{
		MaxEvents: cfg.MaxEvents,
		MaxTimers: cfg.MaxTimers,
		Clock:     cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	r := &Reactor{
		loop:     loop,
		registry: newRegistry(),
		logger:   cfg.Logger.WithField("component", "reactor"),
		metrics:  newMetrics(),
	}
	r.watchdog = newPeriodic(loop, cfg.WatchdogPeriod, r.sweep, r.logger)
	if err := r.watchdog.start(); err != nil {
		_ = loop.Close()
		return nil, fmt.Errorf("arm watchdog: %w", err)
	}
	return r, nil
}

// Schedule calls fn(ctx) once, no earlier than delta seconds from now.
// Scheduled calls cannot be cancelled.
func (r *Reactor) Schedule(delta float64, fn func(ctx any), ctx any) error {
	if r.closed {
		return ErrClosed
	}
	if fn == nil || math.IsNaN(delta) || delta < 0 {
		return ErrInvalidArgument
	}
	return r.loop.Once(r.loop.Now()+delta, func() {
		r.metrics.DeferredCalls.Inc()
		fn(ctx)
	})
}

// Run dispatches events until Stop is called. The watchdog keeps the loop
// busy forever, so Run never returns on its own.
func (r *Reactor) Run() error {
	if r.closed {
		return ErrClosed
	}
	return r.loop.Run()
}

// Stop makes Run return after the running callback. It is a no-op when the
// loop is not running.
func (r *Reactor) Stop() {
	r.loop.Stop()
}

// Len returns the number of attached pollables.
func (r *Reactor) Len() int {
	return r.registry.len()
}

// Close detaches every pollable without calling its close handler, drops
// pending deferred calls and releases the epoll descriptor.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var result *multierror.Error
	for _, id := range r.registry.snapshot() {
		if p, ok := r.registry.lookup(id); ok {
			if err := p.Detach(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := r.loop.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// sweep closes every pollable whose deadline has passed. It walks a snapshot
// so that close handlers may detach or close other pollables freely.
func (r *Reactor) sweep() {
	now := r.loop.Now()
	r.metrics.WatchdogSweeps.Inc()
	for _, id := range r.registry.snapshot() {
		p, ok := r.registry.lookup(id)
		if !ok || !p.expired(now) {
			continue
		}
		logger := r.logger.WithFields(logrus.Fields{
			"category": "watchdog",
			"fd":       p.fd,
		})
		logger.Warn("watchdog timeout")
		r.metrics.WatchdogCloses.Inc()
		if err := p.Close(); err != nil {
			logger.Debugf("watchdog close: %v", err)
		}
	}
}

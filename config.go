package nbpoll

import (
	"github.com/rocinan/nbpoll/clock"
	"github.com/sirupsen/logrus"
)

const (
	kWatchdogPeriod = 10.0
	kEpollSize      = 1024
)

// Config tunes a Reactor. Zero fields take their default.
type Config struct {
	// WatchdogPeriod is the interval, in seconds, between watchdog sweeps.
	WatchdogPeriod float64
	// MaxTimers bounds pending timers, the watchdog included. The watchdog
	// keeps one slot to itself, so Schedule gets ErrResourceExhausted once
	// MaxTimers-1 calls are pending. 0 means unbounded.
	MaxTimers int
	// MaxEvents is the number of readiness events handled per epoll_wait.
	MaxEvents int
	Clock     clock.Clock
	Logger    logrus.FieldLogger
}

func DefaultConfig() Config {
	return Config{
		WatchdogPeriod: kWatchdogPeriod,
		MaxEvents:      kEpollSize,
		Clock:          clock.System,
		Logger:         log,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WatchdogPeriod <= 0 {
		c.WatchdogPeriod = d.WatchdogPeriod
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Package poller is the dispatch engine driven by the reactor: a
// level-triggered epoll loop delivering descriptor readiness to registered
// notify objects, plus a queue of one-shot timers fired at absolute times.
package poller

import (
	"errors"

	"github.com/rocinan/nbpoll/clock"
)

const (
	kEpollSize = 1024
	// kMaxWaitMsec caps a single epoll_wait so that a far timer never
	// overflows the millisecond timeout.
	kMaxWaitMsec = 60 * 60 * 1000
)

// Event is a readiness bitmask. The values follow poll(2).
type Event uint32

const (
	PollNull Event = 0x00
	PollIn   Event = 0x01
	PollOut  Event = 0x04
)

var (
	ErrExists            = errors.New("poller: descriptor already registered")
	ErrNotFound          = errors.New("poller: descriptor not registered")
	ErrClosed            = errors.New("poller: event loop closed")
	ErrRunning           = errors.New("poller: event loop already running")
	ErrResourceExhausted = errors.New("poller: timer queue full")
	ErrInvalidArgument   = errors.New("poller: invalid argument")
)

// ISockNotify receives readiness for a registered descriptor. event only
// carries directions that have interest enabled.
type ISockNotify interface {
	HandleEvent(fd int, event Event)
}

type Config struct {
	// MaxEvents is the size of a single epoll_wait batch.
	MaxEvents int
	// MaxTimers bounds the number of pending timers, including those due in
	// the batch being fired and slots claimed by Reserve. 0 means unbounded.
	MaxTimers int
	Clock     clock.Clock
}

func (c Config) withDefaults() Config {
	if c.MaxEvents <= 0 {
		c.MaxEvents = kEpollSize
	}
	if c.Clock == nil {
		c.Clock = clock.System
	}
	return c
}

func (e Event) String() string {
	switch e {
	case PollNull:
		return "none"
	case PollIn:
		return "in"
	case PollOut:
		return "out"
	case PollIn | PollOut:
		return "in|out"
	}
	return "invalid"
}

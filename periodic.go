package nbpoll

import (
	"github.com/rocinan/nbpoll/poller"
	"github.com/sirupsen/logrus"
)

// periodic runs fn every period seconds for the lifetime of the loop. Fire
// times are anchored on the previous fire time, not on when fn returns.
type periodic struct {
	loop   *poller.EventLoop
	period float64
	next   float64
	fn     func()
	logger logrus.FieldLogger
}

func newPeriodic(loop *poller.EventLoop, period float64, fn func(), logger logrus.FieldLogger) *periodic {
	return &periodic{
		loop:   loop,
		period: period,
		fn:     fn,
		logger: logger,
	}
}

func (t *periodic) start() error {
	if err := t.loop.Reserve(); err != nil {
		return err
	}
	t.next = t.loop.Now() + t.period
	return t.loop.OnceReserved(t.next, t.fire)
}

// fire re-arms before running fn. The re-arm goes onto the slot taken in
// start, so it only fails once the loop is closed; a task that cannot re-arm
// would leave the registry unsupervised, so that is fatal.
func (t *periodic) fire() {
	t.next += t.period
	if now := t.loop.Now(); t.next <= now {
		// the loop was not running for one or more periods
		t.next = now + t.period
	}
	if err := t.loop.OnceReserved(t.next, t.fire); err != nil {
		t.logger.Fatalf("watchdog rearm: %v", err)
	}
	t.fn()
}

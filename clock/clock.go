// Package clock supplies the wall-clock time, in fractional seconds, used
// to compute timer fire times and watchdog deadlines.
package clock

import "time"

// Clock returns the current time in seconds since the Unix epoch.
type Clock interface {
	Now() float64
}

// System is the Clock backed by time.Now.
var System Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() float64 {
	return Seconds(time.Now())
}

// Seconds converts t into fractional seconds since the Unix epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Manual is a Clock that only moves when told to. Not safe for concurrent use.
type Manual struct {
	now float64
}

// NewManual returns a Manual clock reading now.
func NewManual(now float64) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() float64 {
	return m.now
}

// Set moves the clock to now.
func (m *Manual) Set(now float64) {
	m.now = now
}

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d float64) {
	m.now += d
}

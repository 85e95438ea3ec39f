// Package wallclock abstracts the subset of package time used for timers so
// tests can control apparent time.
package wallclock

import "time"

type (
	// WallClock indirects time.Now and time.AfterFunc.
	WallClock interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
	}

	// Timer abstracts the functionality of time.Timer.
	Timer interface {
		Stop() bool
	}

	wallClock struct{}
)

// System is the WallClock backed by package time.
var System WallClock = wallClock{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// OrSystem returns c, or System when c is nil.
func OrSystem(c WallClock) WallClock {
	if c == nil {
		return System
	}
	return c
}

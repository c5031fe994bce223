// Package clock provides the time source and delayed-callback scheduler used
// by the supervision subsystems. Production code uses Real(); tests use a
// Fake clock whose timers only fire when the test advances virtual time.
package clock

import "time"

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It returns true if the call
	// stops the timer, false if the timer already fired or was stopped.
	Stop() bool
}

// Clock supplies the current time and cancelable delayed callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

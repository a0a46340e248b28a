package entity

import "time"

// Timer is a pending call armed by a Clock
type Timer interface {
	Stop() bool
}

// Clock schedules the timers used by entities.
// Tests replace it with a manual clock
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// The clock backed by the time package
func RealClock() Clock {
	return realClock{}
}

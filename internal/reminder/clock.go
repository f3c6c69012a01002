package reminder

import "time"

// Clock abstracts time.Now so the scanner and state machine can be driven by
// tests without real timers.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

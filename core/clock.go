package core

import "time"

// Clock abstracts the wall clock so the timer, tracker, and debouncer can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the real wall clock.
var SystemClock Clock = systemClock{}

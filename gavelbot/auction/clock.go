package auction

import "time"

// Clock supplies the current time to the engine and scheduler. Injecting it
// keeps expiry and anti-snipe decisions testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }

package authx

import "time"

// Clock supplies the current time for temporal claim checks. The method set
// matches jwx's jwt.Clock so a single value can feed both code paths.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

func systemClock() Clock {
	return ClockFunc(time.Now)
}

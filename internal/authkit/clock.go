package authkit

import "time"

// Clock provides the current time; adapters take one so expiry logic is
// testable with a frozen time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC timestamp.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now invokes the wrapped function.
func (clockFunc ClockFunc) Now() time.Time {
	return clockFunc()
}

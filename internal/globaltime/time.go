package globaltime

import "time"

// Now is swappable in tests.
var Now = time.Now

// UTC returns the current time in UTC.
func UTC() time.Time {
	return Now().UTC()
}

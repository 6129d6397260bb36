package store

import "time"

// Clock abstracts time retrieval so stamping and presence are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Micros converts a wall time to the store's native timestamp unit.
func Micros(t time.Time) int64 {
	return t.UnixMicro()
}

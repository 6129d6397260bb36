package feed

import "time"

type Oldness string

const (
	Recent  Oldness = "recent"
	Old     Oldness = "old"
	Ancient Oldness = "ancient"
)

const day = 24 * time.Hour

// OldnessOf buckets the age of a status. Both limits are exclusive.
func OldnessOf(age time.Duration) Oldness {
	switch {
	case age > 365*day:
		return Ancient
	case age > 30*day:
		return Old
	default:
		return Recent
	}
}

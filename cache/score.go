package cache

import (
	"time"
)

// Default scoring windows.
const (
	DefaultDecayHorizon = 7 * 24 * time.Hour
	DefaultWarmWindow   = 24 * time.Hour
)

// Score returns accessCount * max(0, 1 - age/horizon), age measured from lastAccess.
func Score(accessCount uint64, lastAccess, now time.Time, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 0
	}
	age := now.Sub(lastAccess)
	if age < 0 {
		age = 0
	}
	decay := 1 - age.Hours()/horizon.Hours()
	if decay < 0 {
		decay = 0
	}
	return float64(accessCount) * decay
}

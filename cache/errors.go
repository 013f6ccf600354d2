package cache

import (
	"fmt"
)

// CacheIOError describes a failed read, write or decode against the
// persistent tier's backing store. PersistentCache never returns it from
// Get or Set; it is logged and reported to the OnIOError hook.
type CacheIOError struct {
	Op    string
	Key   string
	Cause error
}

func (e *CacheIOError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Key, e.Cause)
}

func (e *CacheIOError) Unwrap() error {
	return e.Cause
}

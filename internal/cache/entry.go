package cache

import "time"

// Entry wraps a cached dataset with its capture and expiry times.
type Entry[T any] struct {
	Data      T         `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewEntry captures data at now with a fixed time-to-live.
func NewEntry[T any](data T, now time.Time, ttl time.Duration) *Entry[T] {
	return &Entry[T]{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Valid reports whether the entry is still within its TTL at now.
func (e *Entry[T]) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Age is the time elapsed since capture.
func (e *Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

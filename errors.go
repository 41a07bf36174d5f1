package cache

import "errors"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("cache closed")

	// ErrInvalidTTL is returned when a negative TTL is given.
	ErrInvalidTTL = errors.New("ttl must not be negative")
)

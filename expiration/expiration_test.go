package expiration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/krisalay/tiered-cache/types"
)

func TestIsExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		h    types.Header
		want bool
	}{
		{"no ttl", types.Header{Timestamp: now.Add(-24 * time.Hour)}, false},
		{"fresh", types.Header{Timestamp: now, TTL: 100 * time.Millisecond}, false},
		{"exactly at boundary", types.Header{Timestamp: now.Add(-100 * time.Millisecond), TTL: 100 * time.Millisecond}, false},
		{"past boundary", types.Header{Timestamp: now.Add(-101 * time.Millisecond), TTL: 100 * time.Millisecond}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(&tt.h, now))
			assert.Equal(t, tt.want, WriteTime{}.IsExpired(&tt.h, now))
		})
	}
}

func TestMaxAge(t *testing.T) {
	now := time.Now()
	old := types.Header{Timestamp: now.Add(-2 * time.Hour)}

	assert.True(t, MaxAge{Max: time.Hour}.IsExpired(&old, now))
	assert.False(t, MaxAge{}.IsExpired(&old, now))

	short := types.Header{Timestamp: now.Add(-time.Second), TTL: time.Millisecond}
	assert.True(t, MaxAge{Max: time.Hour}.IsExpired(&short, now))
}

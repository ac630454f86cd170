package orch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u"))
	assert.True(t, rl.Allow("u"))
	assert.False(t, rl.Allow("u"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("u"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("u"))
	}
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("u"))
}

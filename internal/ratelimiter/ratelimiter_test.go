package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		rps       float64
		burst     int
		wantBurst int
		unlimited bool
	}{
		{name: "explicit burst", rps: 100, burst: 200, wantBurst: 200},
		{name: "default burst", rps: 2.5, burst: 0, wantBurst: 3},
		{name: "unlimited", rps: 0, burst: 0, unlimited: true},
		{name: "negative rate", rps: -1, burst: 10, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.rps, tt.burst)
			require.NotNil(t, limiter)
			assert.Equal(t, tt.unlimited, limiter.Unlimited())
			if !tt.unlimited {
				assert.Equal(t, tt.wantBurst, limiter.Burst())
				assert.InDelta(t, tt.rps, limiter.Limit(), 0.0001)
			}
		})
	}
}

func TestAllowEnforcesBurst(t *testing.T) {
	limiter := New(1, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(), "request %d should fit in the burst", i)
	}
	assert.False(t, limiter.Allow(), "bucket should be empty after the burst")
}

func TestWaitRespectsContext(t *testing.T) {
	limiter := New(0.001, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

func TestWaitNSplitsLargeRequests(t *testing.T) {
	limiter := New(1000, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.NoError(t, limiter.WaitN(ctx, 25))
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	limiter := New(0, 0)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	assert.NoError(t, limiter.WaitN(ctx, 1_000_000))
}

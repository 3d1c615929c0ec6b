package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesBurstPerKey(t *testing.T) {
	l := New(0.001, 2)

	assert.True(t, l.Allow("orders"))
	assert.True(t, l.Allow("orders"))
	assert.False(t, l.Allow("orders"))

	// independent bucket
	assert.True(t, l.Allow("ticker"))
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(0.001, 1)
	require.True(t, l.Allow("orders"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "orders"))
}

func TestWaitRefills(t *testing.T) {
	l := New(100, 1)
	require.True(t, l.Allow("orders"))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "orders"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestZeroRateIsUnlimited(t *testing.T) {
	l := New(0, 1)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("x"))
	}
}

func TestSetRateAppliesToExistingKeys(t *testing.T) {
	l := New(0.001, 1)
	require.True(t, l.Allow("orders"))
	require.False(t, l.Allow("orders"))

	l.SetRate(0, 1)
	assert.True(t, l.Allow("orders"))
}

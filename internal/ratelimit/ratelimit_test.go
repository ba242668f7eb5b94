package ratelimit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/protocol"
)

func testRequest() *protocol.Request {
	raw, _ := json.Marshal("hello there")
	return &protocol.Request{
		Model:     "claude-sonnet-4",
		MaxTokens: 256,
		Messages:  []protocol.Message{{Role: "user", Content: raw}},
	}
}

func TestRegistryForReturnsSameLimiterForSameKey(t *testing.T) {
	reg := NewRegistry(Options{InitialTPM: 1000, MaxTPM: 2000})
	l1 := reg.For(context.Background(), "key-a")
	l2 := reg.For(context.Background(), "key-a")
	assert.Same(t, l1, l2)

	l3 := reg.For(context.Background(), "key-b")
	assert.NotSame(t, l1, l3)
}

func TestLimiterWaitAdmitsWithinBudget(t *testing.T) {
	reg := NewRegistry(Options{InitialTPM: 600000, MaxTPM: 600000})
	l := reg.For(context.Background(), "key-a")
	err := l.Wait(context.Background(), testRequest())
	require.NoError(t, err)
}

func TestLimiterObserveBacksOffOnRateLimitError(t *testing.T) {
	l := newLimiter(1000, 2000)
	before := l.currentTPM
	l.Observe(protocol.NewGatewayError(protocol.ErrorRateLimit, "too many requests", nil))
	assert.Less(t, l.currentTPM, before)
}

func TestLimiterObserveIgnoresNonRateLimitError(t *testing.T) {
	l := newLimiter(1000, 2000)
	before := l.currentTPM
	l.Observe(protocol.NewGatewayError(protocol.ErrorInvalidRequest, "bad request", nil))
	assert.Equal(t, before, l.currentTPM)
}

func TestLimiterObserveProbesUpOnSuccessUntilCeiling(t *testing.T) {
	l := newLimiter(1000, 1100)
	l.Observe(nil)
	assert.Greater(t, l.currentTPM, 1000.0)
	assert.LessOrEqual(t, l.currentTPM, 1100.0)

	for i := 0; i < 50; i++ {
		l.Observe(nil)
	}
	assert.Equal(t, 1100.0, l.currentTPM)
}

func TestLimiterBackoffRespectsFloor(t *testing.T) {
	l := newLimiter(1000, 2000)
	for i := 0; i < 50; i++ {
		l.backoff()
	}
	assert.Equal(t, l.minTPM, l.currentTPM)
}

func TestNewLimiterAppliesDefaultsForInvalidInputs(t *testing.T) {
	l := newLimiter(0, 0)
	assert.Equal(t, 60000.0, l.currentTPM)
	assert.Equal(t, 60000.0, l.maxTPM)
	assert.Equal(t, 6000.0, l.minTPM)
}

package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopStream struct{}

func (noopStream) Next(context.Context) (Event, bool, error)                    { return Event{}, false, nil }
func (noopStream) InjectResult(context.Context, string, json.RawMessage) error { return nil }
func (noopStream) InjectError(context.Context, string, string) error          { return nil }
func (noopStream) Close() error                                               { return nil }

func TestSessionPoolPutGetRemove(t *testing.T) {
	p := NewSessionPool()
	s := &Session{ID: "s1"}
	p.Put(s)

	got, ok := p.Get("s1")
	require.True(t, ok)
	assert.Same(t, s, got)

	removed, ok := p.Remove("s1")
	require.True(t, ok)
	assert.Same(t, s, removed)

	_, ok = p.Get("s1")
	assert.False(t, ok)
}

func TestSessionPoolTryClaimPreventsDoubleClaim(t *testing.T) {
	p := NewSessionPool()
	p.Put(&Session{ID: "s1"})

	assert.True(t, p.TryClaim("s1"))
	assert.False(t, p.TryClaim("s1"), "a second concurrent claim must fail")

	p.Release("s1")
	assert.True(t, p.TryClaim("s1"), "releasing clears the busy flag")
}

func TestSessionPoolTryClaimFailsForUnknownSession(t *testing.T) {
	p := NewSessionPool()
	assert.False(t, p.TryClaim("missing"))
}

func TestSessionPoolRegisterAndActiveStream(t *testing.T) {
	p := NewSessionPool()
	p.Put(&Session{ID: "s1"})
	p.RegisterStream("s1", noopStream{})

	stream, ok := p.ActiveStream("s1")
	require.True(t, ok)
	assert.Equal(t, noopStream{}, stream)

	p.Release("s1")
	_, ok = p.ActiveStream("s1")
	assert.False(t, ok, "release clears the registered stream")
}

func TestSessionPoolIdleExpiredSkipsBusyAndUnexpired(t *testing.T) {
	p := NewSessionPool()
	now := time.Unix(1000, 0)

	p.Put(&Session{ID: "expired", ExpiresAt: now.Add(-time.Minute)})
	p.Put(&Session{ID: "fresh", ExpiresAt: now.Add(time.Minute)})
	p.Put(&Session{ID: "busy-expired", ExpiresAt: now.Add(-time.Minute)})
	p.TryClaim("busy-expired")

	ids := p.IdleExpired(now)
	assert.ElementsMatch(t, []string{"expired"}, ids)
}

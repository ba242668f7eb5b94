package ptc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIsBusy(t *testing.T) {
	cases := []struct {
		state State
		busy  bool
	}{
		{StateIdle, false},
		{StateRunning, true},
		{StateWaitingTool, true},
		{StateFinalizing, true},
		{StateAbandoned, false},
	}
	for _, c := range cases {
		s := &Session{State: c.state}
		assert.Equal(t, c.busy, s.IsBusy(), "state %s", c.state)
	}
}

func TestSessionAllResultsReady(t *testing.T) {
	s := &Session{
		Pending: []PendingCall{{CallID: "a"}, {CallID: "b"}},
		Results: map[string]PendingResult{"a": {Content: "x"}},
	}
	assert.False(t, s.AllResultsReady())

	s.Results["b"] = PendingResult{Content: "y"}
	assert.True(t, s.AllResultsReady())

	empty := &Session{}
	assert.False(t, empty.AllResultsReady())
}

func TestExecutionStateCreateLookupDelete(t *testing.T) {
	es := NewExecutionState()
	s := &Session{ID: "sess-1", State: StateIdle}
	es.Create(s)

	got, ok := es.Lookup("sess-1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, es.Count())

	es.Delete("sess-1")
	_, ok = es.Lookup("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 0, es.Count())
}

func TestExecutionStateIdleExpiredSkipsBusyAndUnexpired(t *testing.T) {
	es := NewExecutionState()
	now := time.Unix(1000, 0)

	es.Create(&Session{ID: "expired-idle", State: StateIdle, ExpiresAt: now.Add(-time.Minute)})
	es.Create(&Session{ID: "fresh-idle", State: StateIdle, ExpiresAt: now.Add(time.Minute)})
	es.Create(&Session{ID: "expired-busy", State: StateRunning, ExpiresAt: now.Add(-time.Minute)})

	ids := es.IdleExpired(now)
	assert.ElementsMatch(t, []string{"expired-idle"}, ids)
}

func TestExecutionStateSampleIDsRespectsLimit(t *testing.T) {
	es := NewExecutionState()
	for i := 0; i < 5; i++ {
		es.Create(&Session{ID: string(rune('a' + i))})
	}
	ids := es.SampleIDs(3)
	assert.Len(t, ids, 3)
}

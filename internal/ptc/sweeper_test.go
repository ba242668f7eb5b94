package ptc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/backend"
	"goa.design/bedrock-gateway/internal/convert"
	"goa.design/bedrock-gateway/internal/protocol"
)

func TestRunSweeperAbandonsIdleExpiredSessions(t *testing.T) {
	rt := &fakeRuntime{}
	be, err := backend.New(backend.Options{Runtime: rt})
	require.NoError(t, err)

	sb := &fakeSandbox{sessionID: "sess-expired"}
	o := New(Options{Backend: be, Resolver: convert.ModelResolver{}, BetaTables: protocol.BetaTables{}, Sandbox: sb})

	o.Sessions().Create(&Session{ID: "sess-expired", State: StateIdle, ExpiresAt: time.Now().Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	go o.RunSweeper(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return o.Sessions().Count() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.Equal(t, 0, o.Sessions().Count())
}

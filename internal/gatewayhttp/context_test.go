package gatewayhttp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/bedrock-gateway/internal/store"
)

func TestWithAPIKeyRoundTrips(t *testing.T) {
	rec := &store.APIKeyRecord{APIKey: "sk-test", UserID: "u1"}
	ctx := withAPIKey(context.Background(), "sk-test", rec)

	assert.Equal(t, "sk-test", apiKeyFromContext(ctx))
	assert.Same(t, rec, apiKeyRecordFromContext(ctx))
}

func TestAPIKeyFromContextEmptyWhenUnset(t *testing.T) {
	assert.Equal(t, "", apiKeyFromContext(context.Background()))
	assert.Nil(t, apiKeyRecordFromContext(context.Background()))
}

func TestWithRequestIDRoundTrips(t *testing.T) {
	ctx := withRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", requestIDFromContext(ctx))
}

func TestRequestIDFromContextEmptyWhenUnset(t *testing.T) {
	assert.Equal(t, "", requestIDFromContext(context.Background()))
}

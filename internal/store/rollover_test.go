package store

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"

	"goa.design/bedrock-gateway/internal/protocol"
)

func TestIsConditionalCheckFailedDetectsTypedError(t *testing.T) {
	assert.True(t, isConditionalCheckFailed(&types.ConditionalCheckFailedException{}))
	assert.False(t, isConditionalCheckFailed(errors.New("boom")))
	assert.False(t, isConditionalCheckFailed(nil))
}

func TestWrapDDBErrorPassesThroughConditionalFailureAndWrapsOthers(t *testing.T) {
	assert.Nil(t, wrapDDBError(nil))

	cce := &types.ConditionalCheckFailedException{}
	assert.Same(t, error(cce), wrapDDBError(cce))

	wrapped := wrapDDBError(errors.New("network blip"))
	ge, ok := protocol.AsGatewayError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, protocol.ErrorServiceUnavailable, ge.Kind)
}

package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/convert"
	"goa.design/bedrock-gateway/internal/protocol"
)

type fakeRuntime struct {
	converseOut    *bedrockruntime.ConverseOutput
	converseErr    error
	converseCalls  []string
	invokeOut      *bedrockruntime.InvokeModelOutput
	invokeErr      error
	countTokensOut *bedrockruntime.CountTokensOutput
	countTokensErr error
}

func (f *fakeRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.converseCalls = append(f.converseCalls, aws.ToString(params.ModelId))
	if f.converseErr != nil {
		return nil, f.converseErr
	}
	return f.converseOut, nil
}

func (f *fakeRuntime) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeRuntime) InvokeModel(_ context.Context, _ *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.invokeOut, nil
}

func (f *fakeRuntime) InvokeModelWithResponseStream(_ context.Context, _ *bedrockruntime.InvokeModelWithResponseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeRuntime) CountTokens(_ context.Context, _ *bedrockruntime.CountTokensInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.CountTokensOutput, error) {
	if f.countTokensErr != nil {
		return nil, f.countTokensErr
	}
	return f.countTokensOut, nil
}

func converseTextOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
	}
}

func TestClientCompleteConverseHappyPath(t *testing.T) {
	rt := &fakeRuntime{converseOut: converseTextOutput("hi there")}
	c, err := New(Options{Runtime: rt})
	require.NoError(t, err)

	req := &convert.BackendRequest{
		Shape:   convert.ShapeConverse,
		ModelID: "anthropic.claude-sonnet-4",
		Converse: &convert.ConverseParts{
			ModelID:  "anthropic.claude-sonnet-4",
			Messages: nil,
		},
	}
	resp, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	tb, ok := resp.Content[0].(protocol.TextBlock)
	require.True(t, ok)
	assert.Equal(t, "hi there", tb.Text)
}

func TestClientCompleteRetriesOnCapacityErrorWithFallbackTier(t *testing.T) {
	throttled := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	calls := 0
	rt := &recordingRuntime{
		onConverse: func() (*bedrockruntime.ConverseOutput, error) {
			calls++
			if calls == 1 {
				return nil, throttled
			}
			return converseTextOutput("ok"), nil
		},
	}
	c, err := New(Options{Runtime: rt, ServiceTierFallback: map[string]string{"priority": "default"}})
	require.NoError(t, err)

	req := &convert.BackendRequest{
		Shape:       convert.ShapeConverse,
		ModelID:     "anthropic.claude-sonnet-4",
		ServiceTier: "priority",
		Converse:    &convert.ConverseParts{ModelID: "anthropic.claude-sonnet-4"},
	}
	resp, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "ok", resp.Content[0].(protocol.TextBlock).Text)
}

type recordingRuntime struct {
	onConverse func() (*bedrockruntime.ConverseOutput, error)
}

func (r *recordingRuntime) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return r.onConverse()
}
func (r *recordingRuntime) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, errors.New("not implemented")
}
func (r *recordingRuntime) InvokeModel(context.Context, *bedrockruntime.InvokeModelInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return nil, errors.New("not implemented")
}
func (r *recordingRuntime) InvokeModelWithResponseStream(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("not implemented")
}
func (r *recordingRuntime) CountTokens(context.Context, *bedrockruntime.CountTokensInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.CountTokensOutput, error) {
	return nil, errors.New("not implemented")
}

func TestClientCompleteTranslatesUnhandledError(t *testing.T) {
	rt := &fakeRuntime{converseErr: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}}
	c, err := New(Options{Runtime: rt})
	require.NoError(t, err)

	req := &convert.BackendRequest{
		Shape:    convert.ShapeConverse,
		ModelID:  "anthropic.claude-sonnet-4",
		Converse: &convert.ConverseParts{ModelID: "anthropic.claude-sonnet-4"},
	}
	_, err = c.Complete(context.Background(), req)
	require.Error(t, err)
	ge, ok := protocol.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorPermission, ge.Kind)
}

func TestIsRateLimitedDetectsThrottlingCode(t *testing.T) {
	assert.True(t, isRateLimited(&smithy.GenericAPIError{Code: "ThrottlingException"}))
	assert.True(t, isRateLimited(&smithy.GenericAPIError{Code: "TooManyRequestsException"}))
	assert.False(t, isRateLimited(errors.New("boom")))
	assert.False(t, isRateLimited(nil))
}

func TestTranslateBackendErrorPassesThroughGatewayError(t *testing.T) {
	orig := protocol.NewGatewayError(protocol.ErrorNotFound, "missing", nil)
	got := translateBackendError(orig)
	ge, ok := protocol.AsGatewayError(got)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorNotFound, ge.Kind)
}

func TestTranslateBackendErrorMapsValidationException(t *testing.T) {
	err := translateBackendError(&smithy.GenericAPIError{Code: "ValidationException", Message: "bad field"})
	ge, ok := protocol.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorInvalidRequest, ge.Kind)
}

func TestTranslateBackendErrorDefaultsToInternal(t *testing.T) {
	err := translateBackendError(errors.New("mystery failure"))
	ge, ok := protocol.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorAPI, ge.Kind)
}

func TestNewRequiresRuntime(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestClientCountTokensReturnsBedrockCount(t *testing.T) {
	rt := &fakeRuntime{countTokensOut: &bedrockruntime.CountTokensOutput{InputTokens: 42}}
	c, err := New(Options{Runtime: rt})
	require.NoError(t, err)

	n, err := c.CountTokens(context.Background(), &convert.ConverseParts{ModelID: "anthropic.claude-sonnet-4"})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestClientCountTokensTranslatesError(t *testing.T) {
	rt := &fakeRuntime{countTokensErr: &smithy.GenericAPIError{Code: "ValidationException", Message: "bad request"}}
	c, err := New(Options{Runtime: rt})
	require.NoError(t, err)

	_, err = c.CountTokens(context.Background(), &convert.ConverseParts{ModelID: "anthropic.claude-sonnet-4"})
	require.Error(t, err)
	ge, ok := protocol.AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrorInvalidRequest, ge.Kind)
}

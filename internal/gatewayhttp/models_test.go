package gatewayhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/backend"
)

// stubBedrockControlPlane implements backend.CatalogClient for tests,
// standing in for the real *bedrock.Client control-plane service.
type stubBedrockControlPlane struct {
	models []bedrocktypes.FoundationModelSummary
}

func (s *stubBedrockControlPlane) ListFoundationModels(context.Context, *bedrock.ListFoundationModelsInput, ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error) {
	return &bedrock.ListFoundationModelsOutput{ModelSummaries: s.models}, nil
}

func (s *stubBedrockControlPlane) GetFoundationModel(context.Context, *bedrock.GetFoundationModelInput, ...func(*bedrock.Options)) (*bedrock.GetFoundationModelOutput, error) {
	return nil, &bedrocktypes.ResourceNotFoundException{Message: aws.String("no such model")}
}

func TestHandleListModelsReturnsCatalog(t *testing.T) {
	s := newTestServer(t, &stubExecutor{available: true})
	s.Catalog = backend.NewCatalog(&stubBedrockControlPlane{
		models: []bedrocktypes.FoundationModelSummary{{
			ModelId:          aws.String("anthropic.claude-sonnet-4"),
			ModelName:        aws.String("Claude Sonnet 4"),
			OutputModalities: []bedrocktypes.ModelModality{bedrocktypes.ModelModalityText},
		}},
	})

	rec := httptest.NewRecorder()
	s.handleListModels(rec, httptest.NewRequest("GET", "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Models []backend.ModelInfo `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Models, 1)
	assert.Equal(t, "anthropic.claude-sonnet-4", body.Models[0].ID)
}

func TestHandleGetModelReturns404WhenMissing(t *testing.T) {
	s := newTestServer(t, &stubExecutor{available: true})
	s.Catalog = backend.NewCatalog(&stubBedrockControlPlane{})

	r := httptest.NewRequest("GET", "/v1/models/nonexistent.model", nil)
	r.SetPathValue("model_id", "nonexistent.model")
	rec := httptest.NewRecorder()
	s.handleGetModel(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

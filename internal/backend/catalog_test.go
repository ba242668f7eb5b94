package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalogClient struct {
	listOut *bedrock.ListFoundationModelsOutput
	listErr error
	getOut  *bedrock.GetFoundationModelOutput
	getErr  error
}

func (f *fakeCatalogClient) ListFoundationModels(context.Context, *bedrock.ListFoundationModelsInput, ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listOut, nil
}

func (f *fakeCatalogClient) GetFoundationModel(context.Context, *bedrock.GetFoundationModelInput, ...func(*bedrock.Options)) (*bedrock.GetFoundationModelOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

func TestCatalogListModelsFiltersToTextOutput(t *testing.T) {
	client := &fakeCatalogClient{listOut: &bedrock.ListFoundationModelsOutput{
		ModelSummaries: []bedrocktypes.FoundationModelSummary{
			{
				ModelId:                    aws.String("anthropic.claude-sonnet-4"),
				ModelName:                  aws.String("Claude Sonnet 4"),
				ProviderName:               aws.String("Anthropic"),
				InputModalities:            []bedrocktypes.ModelModality{bedrocktypes.ModelModalityText},
				OutputModalities:           []bedrocktypes.ModelModality{bedrocktypes.ModelModalityText},
				ResponseStreamingSupported: aws.Bool(true),
			},
			{
				ModelId:          aws.String("amazon.titan-image-generator"),
				ModelName:        aws.String("Titan Image Generator"),
				ProviderName:     aws.String("Amazon"),
				InputModalities:  []bedrocktypes.ModelModality{bedrocktypes.ModelModalityText},
				OutputModalities: []bedrocktypes.ModelModality{bedrocktypes.ModelModalityImage},
			},
		},
	}}
	cat := NewCatalog(client)

	models, err := cat.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "anthropic.claude-sonnet-4", models[0].ID)
	assert.True(t, models[0].StreamingSupported)
}

func TestCatalogGetModelReturnsNilOnResourceNotFound(t *testing.T) {
	client := &fakeCatalogClient{getErr: &bedrocktypes.ResourceNotFoundException{Message: aws.String("no such model")}}
	cat := NewCatalog(client)

	info, err := cat.GetModel(context.Background(), "nonexistent.model")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCatalogGetModelReturnsDetails(t *testing.T) {
	client := &fakeCatalogClient{getOut: &bedrock.GetFoundationModelOutput{
		ModelDetails: &bedrocktypes.FoundationModelDetails{
			ModelId:                    aws.String("anthropic.claude-sonnet-4"),
			ModelName:                  aws.String("Claude Sonnet 4"),
			ProviderName:               aws.String("Anthropic"),
			InputModalities:            []bedrocktypes.ModelModality{bedrocktypes.ModelModalityText},
			OutputModalities:           []bedrocktypes.ModelModality{bedrocktypes.ModelModalityText},
			ResponseStreamingSupported: aws.Bool(true),
			CustomizationsSupported:    []bedrocktypes.ModelCustomization{bedrocktypes.ModelCustomizationFineTuning},
		},
	}}
	cat := NewCatalog(client)

	info, err := cat.GetModel(context.Background(), "anthropic.claude-sonnet-4")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Claude Sonnet 4", info.Name)
	assert.Equal(t, []string{"FINE_TUNING"}, info.CustomizationsSupported)
}

func TestCatalogListModelsTranslatesError(t *testing.T) {
	cat := NewCatalog(&fakeCatalogClient{listErr: errors.New("boom")})
	_, err := cat.ListModels(context.Background())
	assert.Error(t, err)
}

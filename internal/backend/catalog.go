package backend

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

// CatalogClient mirrors the subset of *bedrock.Client (the control-plane
// foundation-model service, distinct from the bedrockruntime data plane
// RuntimeClient calls) the gateway's model-catalog endpoints need.
type CatalogClient interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
	GetFoundationModel(ctx context.Context, params *bedrock.GetFoundationModelInput, optFns ...func(*bedrock.Options)) (*bedrock.GetFoundationModelOutput, error)
}

// ModelInfo is the catalog entry shape returned by both Catalog methods,
// grounded on bedrock_service.py's list_available_models/get_model_info
// result dictionaries.
type ModelInfo struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	Provider                string   `json:"provider"`
	InputModalities         []string `json:"input_modalities"`
	OutputModalities        []string `json:"output_modalities"`
	StreamingSupported      bool     `json:"streaming_supported"`
	CustomizationsSupported []string `json:"customizations_supported,omitempty"`
}

// Catalog lists and looks up Bedrock foundation models via the control-plane
// API, ported from bedrock_service.py's list_available_models/get_model_info
// (the original spec's distillation dropped this surface; it has no Converse
// counterpart, so it lives beside backend.Client rather than inside it).
type Catalog struct {
	client CatalogClient
}

// NewCatalog constructs a Catalog.
func NewCatalog(client CatalogClient) *Catalog {
	return &Catalog{client: client}
}

// ListModels returns every foundation model that supports text output,
// the same TEXT-output-modality filter list_available_models applies so the
// catalog only advertises models the gateway's Converse path can actually
// drive.
func (c *Catalog) ListModels(ctx context.Context) ([]ModelInfo, error) {
	out, err := c.client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, translateBackendError(err)
	}
	models := make([]ModelInfo, 0, len(out.ModelSummaries))
	for _, m := range out.ModelSummaries {
		if !supportsText(m.OutputModalities) {
			continue
		}
		models = append(models, ModelInfo{
			ID:                 aws.ToString(m.ModelId),
			Name:               aws.ToString(m.ModelName),
			Provider:           aws.ToString(m.ProviderName),
			InputModalities:    modalityStrings(m.InputModalities),
			OutputModalities:   modalityStrings(m.OutputModalities),
			StreamingSupported: aws.ToBool(m.ResponseStreamingSupported),
		})
	}
	return models, nil
}

// GetModel looks up a single foundation model by ID, returning (nil, nil)
// when Bedrock reports it doesn't exist, the same
// None-on-ResourceNotFoundException behavior get_model_info has.
func (c *Catalog) GetModel(ctx context.Context, modelID string) (*ModelInfo, error) {
	out, err := c.client.GetFoundationModel(ctx, &bedrock.GetFoundationModelInput{ModelIdentifier: aws.String(modelID)})
	if err != nil {
		var notFound *bedrocktypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, translateBackendError(err)
	}
	d := out.ModelDetails
	if d == nil {
		return nil, nil
	}
	return &ModelInfo{
		ID:                      aws.ToString(d.ModelId),
		Name:                    aws.ToString(d.ModelName),
		Provider:                aws.ToString(d.ProviderName),
		InputModalities:         modalityStrings(d.InputModalities),
		OutputModalities:        modalityStrings(d.OutputModalities),
		StreamingSupported:      aws.ToBool(d.ResponseStreamingSupported),
		CustomizationsSupported: customizationStrings(d.CustomizationsSupported),
	}, nil
}

func supportsText(modalities []bedrocktypes.ModelModality) bool {
	for _, m := range modalities {
		if m == bedrocktypes.ModelModalityText {
			return true
		}
	}
	return false
}

func modalityStrings(modalities []bedrocktypes.ModelModality) []string {
	out := make([]string, len(modalities))
	for i, m := range modalities {
		out[i] = string(m)
	}
	return out
}

func customizationStrings(cs []bedrocktypes.ModelCustomization) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

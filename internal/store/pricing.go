package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"goa.design/bedrock-gateway/internal/protocol"
)

// Pricing is one row of the model_pricing table, decimal prices per 1M
// tokens, keyed by model_id with a GSI on provider.
type Pricing struct {
	ModelID              string  `dynamodbav:"model_id"`
	Provider             string  `dynamodbav:"provider"`
	InputPricePerMillion  float64 `dynamodbav:"input_price_per_million"`
	OutputPricePerMillion float64 `dynamodbav:"output_price_per_million"`
	CacheReadPerMillion   float64 `dynamodbav:"cache_read_per_million"`
	CacheWritePerMillion  float64 `dynamodbav:"cache_write_per_million"`
}

// PricingStore looks up per-model pricing for usage-cost rollups.
type PricingStore struct {
	c *Client
}

// NewPricingStore constructs a PricingStore over c.
func NewPricingStore(c *Client) *PricingStore { return &PricingStore{c: c} }

// Get fetches modelID's pricing row.
func (s *PricingStore) Get(ctx context.Context, modelID string) (*Pricing, error) {
	out, err := s.c.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.c.Tables.ModelPricing,
		Key: map[string]types.AttributeValue{
			"model_id": &types.AttributeValueMemberS{Value: modelID},
		},
	})
	if err != nil {
		return nil, protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "pricing store unavailable", err)
	}
	if out.Item == nil {
		return nil, protocol.NewGatewayError(protocol.ErrorNotFound, "no pricing configured for model "+modelID, nil)
	}
	var p Pricing
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, protocol.NewGatewayError(protocol.ErrorAPI, "pricing record malformed", err)
	}
	return &p, nil
}

// Cost computes the dollar cost of a completed call given its token usage.
func (p *Pricing) Cost(usage protocol.Usage) float64 {
	cost := float64(usage.InputTokens)*p.InputPricePerMillion/1e6 +
		float64(usage.OutputTokens)*p.OutputPricePerMillion/1e6
	if usage.CacheReadInputTokens != nil {
		cost += float64(*usage.CacheReadInputTokens) * p.CacheReadPerMillion / 1e6
	}
	if usage.CacheCreationInputTokens != nil {
		cost += float64(*usage.CacheCreationInputTokens) * p.CacheWritePerMillion / 1e6
	}
	return cost
}

package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"goa.design/bedrock-gateway/internal/protocol"
)

// ModelMappingStore resolves an Anthropic model id to its configured
// Bedrock model id, the table-backed tier of the resolution order: above
// config defaults and the bare-passthrough fallback.
type ModelMappingStore struct {
	c *Client
}

// NewModelMappingStore constructs a ModelMappingStore over c.
func NewModelMappingStore(c *Client) *ModelMappingStore { return &ModelMappingStore{c: c} }

// Resolve looks up anthropicModelID, returning (bedrockModelID, true) on a
// hit or ("", false) if no mapping row exists.
func (s *ModelMappingStore) Resolve(ctx context.Context, anthropicModelID string) (string, bool, error) {
	out, err := s.c.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.c.Tables.ModelMapping,
		Key: map[string]types.AttributeValue{
			"anthropic_model_id": &types.AttributeValueMemberS{Value: anthropicModelID},
		},
	})
	if err != nil {
		return "", false, protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "model mapping store unavailable", err)
	}
	if out.Item == nil {
		return "", false, nil
	}
	var row struct {
		BedrockModelID string `dynamodbav:"bedrock_model_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return "", false, protocol.NewGatewayError(protocol.ErrorAPI, "model mapping record malformed", err)
	}
	return row.BedrockModelID, row.BedrockModelID != "", nil
}

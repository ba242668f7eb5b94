package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"goa.design/bedrock-gateway/internal/protocol"
)

// UsageStatsStore maintains running per-key totals for incremental rollup,
// keyed by api_key with a last_aggregated_timestamp watermark.
type UsageStatsStore struct {
	c *Client
}

// NewUsageStatsStore constructs a UsageStatsStore over c.
func NewUsageStatsStore(c *Client) *UsageStatsStore { return &UsageStatsStore{c: c} }

// Accumulate adds usage and cost to apiKey's running totals and advances
// last_aggregated_timestamp to now, creating the row on first use.
func (s *UsageStatsStore) Accumulate(ctx context.Context, apiKey string, usage protocol.Usage, cost float64, now time.Time) error {
	upd := expression.Set(expression.Name("total_input_tokens"), ifNotExistsAdd("total_input_tokens", usage.InputTokens)).
		Set(expression.Name("total_output_tokens"), ifNotExistsAdd("total_output_tokens", usage.OutputTokens)).
		Set(expression.Name("total_cost"), ifNotExistsAddFloat("total_cost", cost)).
		Set(expression.Name("request_count"), ifNotExistsAdd("request_count", 1)).
		Set(expression.Name("last_aggregated_timestamp"), expression.Value(now.UTC().Format(time.RFC3339)))

	expr, err := expression.NewBuilder().WithUpdate(upd).Build()
	if err != nil {
		return protocol.NewGatewayError(protocol.ErrorAPI, "build usage stats update expression", err)
	}
	_, err = s.c.DDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.c.Tables.UsageStats,
		Key: map[string]types.AttributeValue{
			"api_key": &types.AttributeValueMemberS{Value: apiKey},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "usage stats store unavailable", err)
	}
	return nil
}

func ifNotExistsAdd(name string, delta int) expression.OperandBuilder {
	return expression.Name(name).IfNotExists(expression.Value(0)).Plus(expression.Value(delta))
}

func ifNotExistsAddFloat(name string, delta float64) expression.OperandBuilder {
	return expression.Name(name).IfNotExists(expression.Value(0.0)).Plus(expression.Value(delta))
}

package store

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"goa.design/bedrock-gateway/internal/protocol"
)

// UsageRecord is one row of the usage table, keyed by (api_key,
// timestamp-as-string-milliseconds) with a GSI on request_id.
type UsageRecord struct {
	APIKey                string `dynamodbav:"api_key"`
	Timestamp             string `dynamodbav:"timestamp"`
	RequestID             string `dynamodbav:"request_id"`
	Model                 string `dynamodbav:"model"`
	InputTokens           int    `dynamodbav:"input_tokens"`
	OutputTokens          int    `dynamodbav:"output_tokens"`
	CachedTokens          int    `dynamodbav:"cached_tokens,omitempty"`
	CacheWriteInputTokens int    `dynamodbav:"cache_write_input_tokens,omitempty"`
	Success               bool   `dynamodbav:"success"`
	ErrorMessage          string `dynamodbav:"error_message,omitempty"`
	TTL                   *int64 `dynamodbav:"ttl,omitempty"`
}

// UsageStore appends one row per completed (or failed) backend call.
type UsageStore struct {
	c       *Client
	ttlDays int
}

// NewUsageStore constructs a UsageStore; ttlDays configures the ttl
// attribute written on every record, 0
// disabling TTL entirely.
func NewUsageStore(c *Client, ttlDays int) *UsageStore {
	return &UsageStore{c: c, ttlDays: ttlDays}
}

// Put writes rec, stamping Timestamp (milliseconds since epoch, as the
// table's sort key requires a string) and TTL if configured.
func (s *UsageStore) Put(ctx context.Context, rec UsageRecord, now time.Time) error {
	if rec.Timestamp == "" {
		rec.Timestamp = strconv.FormatInt(now.UnixMilli(), 10)
	}
	if s.ttlDays > 0 {
		exp := now.AddDate(0, 0, s.ttlDays).Unix()
		rec.TTL = &exp
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return protocol.NewGatewayError(protocol.ErrorAPI, "marshal usage record", err)
	}
	_, err = s.c.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.c.Tables.Usage,
		Item:      item,
	})
	if err != nil {
		return protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "usage store unavailable", err)
	}
	return nil
}

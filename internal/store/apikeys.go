package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"goa.design/bedrock-gateway/internal/protocol"
)

// APIKeyRecord is one row of the api_keys table.
type APIKeyRecord struct {
	APIKey            string             `dynamodbav:"api_key"`
	UserID            string             `dynamodbav:"user_id"`
	IsActive          bool               `dynamodbav:"is_active"`
	DeactivatedReason string             `dynamodbav:"deactivated_reason"`
	RateLimit         int                `dynamodbav:"rate_limit"`
	TPMLimit          int                `dynamodbav:"tpm_limit"`
	ServiceTier       string             `dynamodbav:"service_tier"`
	MonthlyBudget     float64            `dynamodbav:"monthly_budget"`
	BudgetUsed        float64            `dynamodbav:"budget_used"`
	BudgetUsedMTD     float64            `dynamodbav:"budget_used_mtd"`
	BudgetMTDMonth    string             `dynamodbav:"budget_mtd_month"`
	BudgetHistory     map[string]float64 `dynamodbav:"budget_history"`
}

// APIKeyStore looks up the single key record needed to decide
// authentication_error, permission_error, and budget_exceeded_error.
// Rate limiting itself lives in internal/ratelimit; this store only
// supplies the data those three error kinds render.
type APIKeyStore struct {
	c *Client
}

// NewAPIKeyStore constructs an APIKeyStore over c.
func NewAPIKeyStore(c *Client) *APIKeyStore { return &APIKeyStore{c: c} }

// getRecord fetches apiKey's raw row with no activity check, used both by
// Authenticate and by RecordSpend (which must keep updating budget_used for
// an already-deactivated key).
func (s *APIKeyStore) getRecord(ctx context.Context, apiKey string) (*APIKeyRecord, error) {
	out, err := s.c.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.c.Tables.APIKeys,
		Key: map[string]types.AttributeValue{
			"api_key": &types.AttributeValueMemberS{Value: apiKey},
		},
	})
	if err != nil {
		return nil, protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "api key store unavailable", err)
	}
	if out.Item == nil {
		return nil, protocol.NewGatewayError(protocol.ErrorAuthentication, "unknown api key", nil)
	}
	var rec APIKeyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, protocol.NewGatewayError(protocol.ErrorAPI, "api key record malformed", err)
	}
	return &rec, nil
}

// Authenticate fetches apiKey's record and classifies it against the three
// key-related error kinds, returning the record on success.
func (s *APIKeyStore) Authenticate(ctx context.Context, apiKey string) (*APIKeyRecord, error) {
	if apiKey == "" {
		return nil, protocol.NewGatewayError(protocol.ErrorAuthentication, "missing api key", nil)
	}
	rec, err := s.getRecord(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		if rec.DeactivatedReason == "budget_exceeded" {
			return nil, protocol.NewGatewayError(protocol.ErrorBudgetExceeded,
				fmt.Sprintf("monthly budget of %.2f exhausted (%.2f used this month as of %s)", rec.MonthlyBudget, rec.BudgetUsedMTD, rec.BudgetMTDMonth), nil)
		}
		return nil, protocol.NewGatewayError(protocol.ErrorPermission,
			fmt.Sprintf("api key deactivated: %s", rec.DeactivatedReason), nil)
	}
	return rec, nil
}

// RecordSpend applies delta dollars to the key's running and month-to-date
// budget counters, rolling budget_used_mtd into budget_history and
// resetting it when the calendar month has advanced since the last write.
// A losing concurrent writer retries against the newly observed month
// rather than double-archiving.
func (s *APIKeyStore) RecordSpend(ctx context.Context, apiKey string, delta float64, now time.Time) error {
	month := now.Format("2006-01")
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, err := s.getRecord(ctx, apiKey)
		if err != nil {
			return err
		}
		if rec.BudgetMTDMonth == month {
			if err := s.updateSameMonth(ctx, apiKey, delta, rec.BudgetMTDMonth); err == nil {
				return nil
			} else if isConditionalCheckFailed(err) {
				continue
			} else {
				return err
			}
		}
		if err := s.rolloverMonth(ctx, apiKey, delta, rec.BudgetMTDMonth, rec.BudgetUsedMTD, month); err == nil {
			return nil
		} else if isConditionalCheckFailed(err) {
			continue
		} else {
			return err
		}
	}
	return protocol.NewGatewayError(protocol.ErrorAPI, "budget rollover contended, giving up", nil)
}

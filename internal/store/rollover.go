package store

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"goa.design/bedrock-gateway/internal/protocol"
)

// updateSameMonth adds delta to budget_used and budget_used_mtd, guarded by
// a condition that budget_mtd_month has not changed underneath us since it
// was read.
func (s *APIKeyStore) updateSameMonth(ctx context.Context, apiKey string, delta float64, expectMonth string) error {
	upd := expression.Set(expression.Name("budget_used"), expression.Name("budget_used").Plus(expression.Value(delta))).
		Set(expression.Name("budget_used_mtd"), expression.Name("budget_used_mtd").Plus(expression.Value(delta)))
	cond := expression.Name("budget_mtd_month").Equal(expression.Value(expectMonth))
	if expectMonth == "" {
		cond = expression.Name("budget_mtd_month").AttributeNotExists()
	}
	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return protocol.NewGatewayError(protocol.ErrorAPI, "build update expression", err)
	}
	_, err = s.c.DDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.c.Tables.APIKeys,
		Key:                       map[string]types.AttributeValue{"api_key": &types.AttributeValueMemberS{Value: apiKey}},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapDDBError(err)
}

// rolloverMonth archives the prior month's budget_used_mtd into
// budget_history[prevMonth], resets budget_used_mtd to delta, and advances
// budget_mtd_month to newMonth — all conditioned on budget_mtd_month still
// matching prevMonth so a concurrent writer observing the same stale month
// cannot double-archive.
func (s *APIKeyStore) rolloverMonth(ctx context.Context, apiKey string, delta float64, prevMonth string, prevUsed float64, newMonth string) error {
	upd := expression.Set(expression.Name("budget_used"), expression.Name("budget_used").Plus(expression.Value(delta))).
		Set(expression.Name("budget_used_mtd"), expression.Value(delta)).
		Set(expression.Name("budget_mtd_month"), expression.Value(newMonth))
	if prevMonth != "" {
		upd = upd.Set(expression.Name("budget_history."+prevMonth), expression.Value(prevUsed))
	}
	var cond expression.ConditionBuilder
	if prevMonth == "" {
		cond = expression.Name("budget_mtd_month").AttributeNotExists()
	} else {
		cond = expression.Name("budget_mtd_month").Equal(expression.Value(prevMonth))
	}
	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return protocol.NewGatewayError(protocol.ErrorAPI, "build rollover expression", err)
	}
	_, err = s.c.DDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.c.Tables.APIKeys,
		Key:                       map[string]types.AttributeValue{"api_key": &types.AttributeValueMemberS{Value: apiKey}},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapDDBError(err)
}

func wrapDDBError(err error) error {
	if err == nil {
		return nil
	}
	if isConditionalCheckFailed(err) {
		return err
	}
	return protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "dynamodb update failed", err)
}

func isConditionalCheckFailed(err error) bool {
	var cce *types.ConditionalCheckFailedException
	return errors.As(err, &cce)
}

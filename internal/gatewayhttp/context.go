package gatewayhttp

import (
	"context"

	"goa.design/bedrock-gateway/internal/store"
)

type ctxKey int

const (
	ctxKeyAPIKey ctxKey = iota
	ctxKeyAPIKeyRecord
	ctxKeyRequestID
	ctxKeyDecodedRequest
)

func withAPIKey(ctx context.Context, key string, rec *store.APIKeyRecord) context.Context {
	ctx = context.WithValue(ctx, ctxKeyAPIKey, key)
	return context.WithValue(ctx, ctxKeyAPIKeyRecord, rec)
}

func apiKeyFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyAPIKey).(string)
	return v
}

func apiKeyRecordFromContext(ctx context.Context) *store.APIKeyRecord {
	rec, _ := ctx.Value(ctxKeyAPIKeyRecord).(*store.APIKeyRecord)
	return rec
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

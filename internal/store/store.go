// Package store implements the DynamoDB-backed collaborator tables: api_keys,
// usage, model_mapping, model_pricing, usage_stats. A DynamoDB client is
// already part of this codebase's dependency stack, so these are
// implemented concretely rather than left as bare interfaces, using
// aws-sdk-go-v2/feature/dynamodb/attributevalue for marshaling and
// aws-sdk-go-v2/feature/dynamodb/expression for the conditional
// month-rollover update.
package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"goa.design/bedrock-gateway/internal/telemetry"
)

// Tables names every table the gateway reads or writes.
type Tables struct {
	APIKeys      string
	Usage        string
	ModelMapping string
	ModelPricing string
	UsageStats   string
}

// Client bundles a DynamoDB client with the table-name configuration every
// store in this package needs.
type Client struct {
	DDB    *dynamodb.Client
	Tables Tables
	tel    *telemetry.Telemetry
}

// NewClient builds a DynamoDB client, optionally pointed at a local
// endpoint (e.g. DynamoDB Local in development), mirroring the
// region/endpoint override pattern goa-ai's AWS clients use.
func NewClient(ctx context.Context, region, endpoint string, tables Tables, tel *telemetry.Telemetry) (*Client, error) {
	if tel == nil {
		tel = telemetry.Noop()
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	ddb := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{DDB: ddb, Tables: tables, tel: tel}, nil
}

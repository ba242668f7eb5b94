package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/bedrock-gateway/internal/protocol"
)

func TestPricingCostCombinesInputOutputAndCacheTokens(t *testing.T) {
	p := &Pricing{
		InputPricePerMillion:  3.0,
		OutputPricePerMillion: 15.0,
		CacheReadPerMillion:   0.3,
		CacheWritePerMillion:  3.75,
	}
	cacheRead := 1000
	cacheWrite := 2000
	usage := protocol.Usage{
		InputTokens:              1_000_000,
		OutputTokens:             1_000_000,
		CacheReadInputTokens:     &cacheRead,
		CacheCreationInputTokens: &cacheWrite,
	}

	got := p.Cost(usage)
	want := 3.0 + 15.0 + 1000*0.3/1e6 + 2000*3.75/1e6
	assert.InDelta(t, want, got, 1e-9)
}

func TestPricingCostIgnoresNilCacheFields(t *testing.T) {
	p := &Pricing{InputPricePerMillion: 1.0, OutputPricePerMillion: 2.0}
	usage := protocol.Usage{InputTokens: 500_000, OutputTokens: 500_000}

	got := p.Cost(usage)
	assert.InDelta(t, 0.5+1.0, got, 1e-9)
}

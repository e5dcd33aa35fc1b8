package dexscreener

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatPtr(f float64) *float64 {
	return &f
}

func TestIdentities(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		expected string
	}{
		{
			name:     "ad with chain and token",
			identity: AdIdentity(Ad{ChainID: "Solana", TokenAddress: "AbC", Type: "tokenAd", Date: "2025-01-01"}),
			expected: "solana|AbC|tokenAd|2025-01-01",
		},
		{
			name:     "ad without token falls back to url",
			identity: AdIdentity(Ad{URL: "https://dexscreener.com/ads/1", Type: "tokenAd"}),
			expected: "url|https://dexscreener.com/ads/1|tokenAd|",
		},
		{
			name:     "ad without any identifying field",
			identity: AdIdentity(Ad{Type: "tokenAd"}),
			expected: "",
		},
		{
			name:     "profile",
			identity: ProfileIdentity(Profile{ChainID: "base", TokenAddress: "0xabc"}),
			expected: "base|0xabc",
		},
		{
			name:     "boost with total",
			identity: BoostIdentity(Boost{ChainID: "solana", TokenAddress: "A", TotalAmount: floatPtr(500)}),
			expected: "solana|A|500",
		},
		{
			name:     "boost without total",
			identity: BoostIdentity(Boost{ChainID: "solana", TokenAddress: "A"}),
			expected: "solana|A|",
		},
		{
			name:     "order",
			identity: OrderIdentity("solana", "A", Order{Type: "tokenAd", PaymentTimestamp: 1700000000123}),
			expected: "solana|A|tokenAd|1700000000123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.identity)
		})
	}
}

func TestIdentityDeterminism(t *testing.T) {
	b := Boost{ChainID: "solana", TokenAddress: "A", TotalAmount: floatPtr(12.5)}
	first := BoostIdentity(b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, BoostIdentity(b))
	}
}

func TestIdentityDistinguishesUnrelatedRecords(t *testing.T) {
	base := OrderIdentity("solana", "A", Order{Type: "tokenAd", PaymentTimestamp: 1})

	assert.NotEqual(t, base, OrderIdentity("bsc", "A", Order{Type: "tokenAd", PaymentTimestamp: 1}))
	assert.NotEqual(t, base, OrderIdentity("solana", "B", Order{Type: "tokenAd", PaymentTimestamp: 1}))
	assert.NotEqual(t, base, OrderIdentity("solana", "A", Order{Type: "tokenProfile", PaymentTimestamp: 1}))
	assert.NotEqual(t, base, OrderIdentity("solana", "A", Order{Type: "tokenAd", PaymentTimestamp: 2}))
}

func TestDecodeOrders(t *testing.T) {
	orders, err := decodeOrders([]byte(` [{"type":"tokenAd","status":"approved","paymentTimestamp":1}]`))
	assert.NoError(t, err)
	assert.Len(t, orders, 1)

	orders, err = decodeOrders([]byte(`{"orders":[{"type":"a"},{"type":"b"}]}`))
	assert.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = decodeOrders([]byte(`null`))
	assert.NoError(t, err)
	assert.Empty(t, orders)

	_, err = decodeOrders([]byte(`"nope"`))
	assert.Error(t, err)
}

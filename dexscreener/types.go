package dexscreener

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Ad is an item from /ads/latest/v1
type Ad struct {
	URL           string  `json:"url"`
	ChainID       string  `json:"chainId"`
	TokenAddress  string  `json:"tokenAddress"`
	Date          string  `json:"date"`
	Type          string  `json:"type"`
	DurationHours float64 `json:"durationHours"`
	Impressions   int64   `json:"impressions"`
	Image         string  `json:"image"`
}

// Link as returned inside profiles and boosts
type Link struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Profile is an item from /token-profiles/latest/v1
type Profile struct {
	URL          string `json:"url"`
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Icon         string `json:"icon"`
	Header       string `json:"header"`
	OpenGraph    string `json:"openGraph"`
	Description  string `json:"description"`
	Links        []Link `json:"links"`
}

// Boost is an item from /token-boosts/latest/v1
type Boost struct {
	URL          string   `json:"url"`
	ChainID      string   `json:"chainId"`
	TokenAddress string   `json:"tokenAddress"`
	Amount       float64  `json:"amount"`
	TotalAmount  *float64 `json:"totalAmount"`
	Icon         string   `json:"icon"`
	Header       string   `json:"header"`
	Description  string   `json:"description"`
	Links        []Link   `json:"links"`
}

// Order is a paid order for a token
type Order struct {
	Type             string  `json:"type"`
	Status           string  `json:"status"`
	PaymentTimestamp float64 `json:"paymentTimestamp"`
}

// Pair is the subset of a trading pair used for enrichment
type Pair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string  `json:"priceUsd"`
	MarketCap float64 `json:"marketCap"`
	FDV       float64 `json:"fdv"`
}

// decodeOrders accepts either a bare array of orders or an object wrapping
// them in an "orders" field.
func decodeOrders(raw json.RawMessage) ([]Order, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var orders []Order
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, err
		}
		return orders, nil
	case '{':
		var wrapped struct {
			Orders []Order `json:"orders"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Orders, nil
	default:
		return nil, fmt.Errorf("unexpected orders payload starting with %q", trimmed[0])
	}
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// FeedKind identifies one of the monitored DexScreener feeds
type FeedKind int

const (
	BannerAd FeedKind = iota
	TokenProfile
	TokenBoost
	PaidOrder
)

// AllFeedKinds is the fixed order in which feeds are processed each cycle
var AllFeedKinds = []FeedKind{BannerAd, TokenProfile, TokenBoost, PaidOrder}

func (k FeedKind) String() string {
	switch k {
	case BannerAd:
		return "ads"
	case TokenProfile:
		return "profiles"
	case TokenBoost:
		return "boosts"
	case PaidOrder:
		return "orders"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Label is the upper case name used in alert headlines
func (k FeedKind) Label() string {
	switch k {
	case BannerAd:
		return "AD"
	case TokenProfile:
		return "PROFILE"
	case TokenBoost:
		return "BOOST"
	case PaidOrder:
		return "ORDER"
	default:
		return "ALERT"
	}
}

// ParseFeedKind accepts the names returned by String
func ParseFeedKind(s string) (FeedKind, error) {
	for _, k := range AllFeedKinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown feed kind %q", s)
}

// MarshalText makes FeedKind usable as a JSON map key
func (k FeedKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FeedKind) UnmarshalText(text []byte) error {
	parsed, err := ParseFeedKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Link is a social or website link attached to a token profile
type Link struct {
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

// TokenInfo holds market data looked up for a token
type TokenInfo struct {
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	PriceUSD  float64 `json:"priceUsd"`
	MarketCap float64 `json:"marketCap"`
}

// Record is a single item returned by one of the feeds.
// Only the fields relevant to the record's Kind are populated.
type Record struct {
	Kind         FeedKind `json:"kind"`
	Identity     string   `json:"identity"`
	ChainID      string   `json:"chainId"`
	TokenAddress string   `json:"tokenAddress"`
	Symbol       string   `json:"symbol,omitempty"`
	Name         string   `json:"name,omitempty"`
	URL          string   `json:"url,omitempty"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	Description  string   `json:"description,omitempty"`
	Links        []Link   `json:"links,omitempty"`

	// Banner ads
	AdType        string  `json:"adType,omitempty"`
	AdDate        string  `json:"adDate,omitempty"`
	DurationHours float64 `json:"durationHours,omitempty"`
	Impressions   int64   `json:"impressions,omitempty"`

	// Token boosts
	Amount      float64 `json:"amount,omitempty"`
	TotalAmount float64 `json:"totalAmount,omitempty"`

	// Highest total previously seen for the token, zero for a first boost
	PreviousTotal float64 `json:"previousTotal,omitempty"`

	// Paid orders
	OrderType   string    `json:"orderType,omitempty"`
	OrderStatus string    `json:"orderStatus,omitempty"`
	PaidAt      time.Time `json:"paidAt,omitempty"`

	Token *TokenInfo `json:"token,omitempty"`
}

// Notification is the formatted message for exactly one record
type Notification struct {
	Kind     FeedKind `json:"kind"`
	Identity string   `json:"identity"`
	Text     string   `json:"text"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
}

// NotificationEvent is broadcast to status stream clients after a dispatch attempt
type NotificationEvent struct {
	Notification Notification `json:"notification"`
	Delivered    bool         `json:"delivered"`
	At           time.Time    `json:"at"`
}

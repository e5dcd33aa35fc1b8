package dexscreener

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"dexwatch/models"
)

const DefaultMaxOrderLookups = 50

// Token is a (chain, address) pair tracked for order lookups
type Token struct {
	ChainID string
	Address string
}

// maxTrackedTokens bounds the TokenSet; the least recently seen token is
// dropped first.
const maxTrackedTokens = 10000

// TokenSet remembers tokens seen in the ad, profile and boost feeds ordered
// by when they were last seen.
type TokenSet struct {
	tokens *lru.Cache[Token, struct{}]
}

func NewTokenSet() *TokenSet {
	tokens, _ := lru.New[Token, struct{}](maxTrackedTokens)
	return &TokenSet{tokens: tokens}
}

// Add marks a token as seen now. A token that is already tracked moves to
// the back.
func (s *TokenSet) Add(chainID, address string) {
	if chainID == "" || address == "" {
		return
	}
	s.tokens.Add(Token{ChainID: strings.ToLower(chainID), Address: address}, struct{}{})
}

// Recent returns up to n of the most recently seen tokens, oldest first.
// n <= 0 returns all of them.
func (s *TokenSet) Recent(n int) []Token {
	keys := s.tokens.Keys()
	if n > 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	return keys
}

func (s *TokenSet) Len() int {
	return s.tokens.Len()
}

// Fetcher turns the DexScreener endpoints into records for each feed kind
type Fetcher struct {
	client          *Client
	tokens          *TokenSet
	maxOrderLookups int
}

func NewFetcher(client *Client, maxOrderLookups int) *Fetcher {
	if maxOrderLookups <= 0 {
		maxOrderLookups = DefaultMaxOrderLookups
	}
	return &Fetcher{
		client:          client,
		tokens:          NewTokenSet(),
		maxOrderLookups: maxOrderLookups,
	}
}

func (f *Fetcher) Tokens() *TokenSet {
	return f.tokens
}

// Fetch returns the current snapshot for kind in upstream order
func (f *Fetcher) Fetch(ctx context.Context, kind models.FeedKind) ([]models.Record, error) {
	switch kind {
	case models.BannerAd:
		ads, err := f.client.LatestAds(ctx)
		if err != nil {
			return nil, err
		}
		return lo.Map(ads, func(ad Ad, _ int) models.Record {
			f.tokens.Add(ad.ChainID, ad.TokenAddress)
			return adRecord(ad)
		}), nil

	case models.TokenProfile:
		profiles, err := f.client.LatestProfiles(ctx)
		if err != nil {
			return nil, err
		}
		return lo.Map(profiles, func(p Profile, _ int) models.Record {
			f.tokens.Add(p.ChainID, p.TokenAddress)
			return profileRecord(p)
		}), nil

	case models.TokenBoost:
		boosts, err := f.client.LatestBoosts(ctx)
		if err != nil {
			return nil, err
		}
		return lo.Map(boosts, func(b Boost, _ int) models.Record {
			f.tokens.Add(b.ChainID, b.TokenAddress)
			return boostRecord(b)
		}), nil

	case models.PaidOrder:
		return f.fetchOrders(ctx)
	}

	return nil, fmt.Errorf("unsupported feed kind %s", kind)
}

// fetchOrders looks up orders for the tracked tokens. It only fails when
// every lookup failed.
func (f *Fetcher) fetchOrders(ctx context.Context) ([]models.Record, error) {
	tokens := f.tokens.Recent(f.maxOrderLookups)
	if len(tokens) == 0 {
		return []models.Record{}, nil
	}

	records := []models.Record{}
	var lastErr error
	failed := 0

	for _, lookup := range f.lookupOrders(ctx, tokens) {
		if lookup.err != nil {
			failed++
			lastErr = lookup.err
			log.WithFields(log.Fields{
				"chain": lookup.token.ChainID,
				"token": lookup.token.Address,
				"error": lookup.err,
			}).Warn("Order lookup failed")
			continue
		}
		for _, o := range lookup.orders {
			records = append(records, orderRecord(lookup.token, o))
		}
	}

	if failed == len(tokens) {
		return nil, lastErr
	}
	return records, nil
}

func adRecord(ad Ad) models.Record {
	return models.Record{
		Kind:          models.BannerAd,
		Identity:      AdIdentity(ad),
		ChainID:       ad.ChainID,
		TokenAddress:  ad.TokenAddress,
		URL:           ad.URL,
		ImageURL:      ad.Image,
		AdType:        ad.Type,
		AdDate:        ad.Date,
		DurationHours: ad.DurationHours,
		Impressions:   ad.Impressions,
	}
}

func profileRecord(p Profile) models.Record {
	return models.Record{
		Kind:         models.TokenProfile,
		Identity:     ProfileIdentity(p),
		ChainID:      p.ChainID,
		TokenAddress: p.TokenAddress,
		URL:          p.URL,
		ImageURL:     lo.CoalesceOrEmpty(p.OpenGraph, p.Header, p.Icon),
		Description:  p.Description,
		Links:        convertLinks(p.Links),
	}
}

func boostRecord(b Boost) models.Record {
	rec := models.Record{
		Kind:         models.TokenBoost,
		Identity:     BoostIdentity(b),
		ChainID:      b.ChainID,
		TokenAddress: b.TokenAddress,
		URL:          b.URL,
		ImageURL:     lo.CoalesceOrEmpty(b.Header, b.Icon),
		Description:  b.Description,
		Links:        convertLinks(b.Links),
		Amount:       b.Amount,
	}
	if b.TotalAmount != nil {
		rec.TotalAmount = *b.TotalAmount
	}
	return rec
}

func orderRecord(token Token, o Order) models.Record {
	rec := models.Record{
		Kind:         models.PaidOrder,
		Identity:     OrderIdentity(token.ChainID, token.Address, o),
		ChainID:      token.ChainID,
		TokenAddress: token.Address,
		OrderType:    o.Type,
		OrderStatus:  o.Status,
	}
	if o.PaymentTimestamp > 0 {
		rec.PaidAt = time.UnixMilli(int64(o.PaymentTimestamp)).UTC()
	}
	return rec
}

func convertLinks(links []Link) []models.Link {
	return lo.FilterMap(links, func(l Link, _ int) (models.Link, bool) {
		return models.Link{Type: l.Type, Label: l.Label, URL: l.URL}, l.URL != ""
	})
}

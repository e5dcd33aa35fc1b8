package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"dexwatch/models"
)

const (
	DefaultBaseURL = "https://api.dexscreener.com"
	DefaultTimeout = 10 * time.Second

	adsPath      = "/ads/latest/v1"
	profilesPath = "/token-profiles/latest/v1"
	boostsPath   = "/token-boosts/latest/v1"
	ordersPath   = "/orders/v1/%s/%s"
	tokensPath   = "/tokens/v1/%s/%s"
)

// Client is a thin DexScreener REST client
type Client struct {
	baseURL   string
	timeout   time.Duration
	userAgent string
	http      *fasthttp.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   baseURL,
		timeout:   DefaultTimeout,
		userAgent: "dexwatch",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = &fasthttp.Client{
		Name:                c.userAgent,
		ReadTimeout:         c.timeout,
		WriteTimeout:        c.timeout,
		MaxIdleConnDuration: time.Minute,
	}
	return c
}

// LatestAds returns the current banner ads, most recent first
func (c *Client) LatestAds(ctx context.Context) ([]Ad, error) {
	var ads []Ad
	if err := c.get(ctx, models.BannerAd, adsPath, &ads); err != nil {
		return nil, err
	}
	return ads, nil
}

// LatestProfiles returns the latest token profiles
func (c *Client) LatestProfiles(ctx context.Context) ([]Profile, error) {
	var profiles []Profile
	if err := c.get(ctx, models.TokenProfile, profilesPath, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// LatestBoosts returns the latest token boosts
func (c *Client) LatestBoosts(ctx context.Context) ([]Boost, error) {
	var boosts []Boost
	if err := c.get(ctx, models.TokenBoost, boostsPath, &boosts); err != nil {
		return nil, err
	}
	return boosts, nil
}

// Orders returns the paid orders for a single token. A 404 means the token
// has no orders and yields an empty result.
func (c *Client) Orders(ctx context.Context, chainID, tokenAddress string) ([]Order, error) {
	path := fmt.Sprintf(ordersPath, url.PathEscape(chainID), url.PathEscape(tokenAddress))

	var raw json.RawMessage
	err := c.get(ctx, models.PaidOrder, path, &raw)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.Reason == BadResponse && fe.Status == fasthttp.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	orders, err := decodeOrders(raw)
	if err != nil {
		return nil, &FetchError{Kind: models.PaidOrder, Endpoint: path, Reason: ParseFailure, Err: err}
	}
	return orders, nil
}

// TokenInfo looks up name, symbol, price and market cap for a token using
// the first pair returned by the tokens endpoint.
func (c *Client) TokenInfo(ctx context.Context, kind models.FeedKind, chainID, tokenAddress string) (*models.TokenInfo, error) {
	path := fmt.Sprintf(tokensPath, url.PathEscape(chainID), url.PathEscape(tokenAddress))

	var pairs []Pair
	if err := c.get(ctx, kind, path, &pairs); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	pair := pairs[0]
	info := &models.TokenInfo{
		Name:      pair.BaseToken.Name,
		Symbol:    pair.BaseToken.Symbol,
		MarketCap: pair.MarketCap,
	}
	if info.MarketCap == 0 {
		info.MarketCap = pair.FDV
	}
	if price, err := strconv.ParseFloat(pair.PriceUSD, 64); err == nil {
		info.PriceUSD = price
	}
	return info, nil
}

// get performs a GET request and decodes the JSON body into out.
// fasthttp has no context support, so the context deadline only
// shortens the request deadline.
func (c *Client) get(ctx context.Context, kind models.FeedKind, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return &FetchError{Kind: kind, Endpoint: path, Reason: Unreachable, Err: err}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return &FetchError{Kind: kind, Endpoint: path, Reason: classify(err), Err: err}
	}

	status := resp.StatusCode()
	body := resp.Body()

	log.WithFields(log.Fields{
		"path":     path,
		"status":   status,
		"bytes":    len(body),
		"duration": time.Since(start),
	}).Debug("DexScreener request")

	if status != fasthttp.StatusOK {
		return &FetchError{Kind: kind, Endpoint: path, Reason: BadResponse, Status: status, Body: excerpt(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Kind: kind, Endpoint: path, Reason: ParseFailure, Err: err}
	}
	return nil
}

func classify(err error) Reason {
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return Unreachable
}

// Package polymarket implements the ingest.Source interface against the
// Polymarket CLOB REST API.
package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"polyscan/internal/ingest"
)

// endCursor is the sentinel the CLOB API returns on the last listing page.
const endCursor = "LTE="

// Client provides access to the Polymarket CLOB REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// ListMarkets fetches one page of markets. The full listing comes from
// /markets; the active-only listing comes from /sampling-markets, which
// returns only markets currently accepting orders, with token prices inline.
func (c *Client) ListMarkets(ctx context.Context, cursor string, activeOnly bool) (ingest.Page, error) {
	path := "/markets"
	if activeOnly {
		path = "/sampling-markets"
	}

	query := url.Values{}
	if cursor != "" {
		query.Set("next_cursor", cursor)
	}

	var resp marketsResponse
	if err := c.get(ctx, path, query, &resp); err != nil {
		return ingest.Page{}, fmt.Errorf("list markets: %w", err)
	}

	page := ingest.Page{NextCursor: resp.NextCursor}
	if page.NextCursor == endCursor {
		page.NextCursor = ""
	}

	page.Markets = make([]ingest.SourceMarket, 0, len(resp.Data))
	for _, m := range resp.Data {
		if m.ConditionID == "" {
			continue
		}
		page.Markets = append(page.Markets, m.toSourceMarket())
	}

	return page, nil
}

// Prices fetches midpoint prices for the given tokens in one request via
// POST /midpoints. Tokens the API has no midpoint for are absent from the
// result.
func (c *Client) Prices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	if len(tokenIDs) == 0 {
		return map[string]float64{}, nil
	}

	body := make([]map[string]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		body = append(body, map[string]string{"token_id": id})
	}

	// The API returns midpoints as decimal strings.
	var resp map[string]string
	if err := c.post(ctx, "/midpoints", body, &resp); err != nil {
		return nil, fmt.Errorf("get midpoints: %w", err)
	}

	prices := make(map[string]float64, len(resp))
	for id, s := range resp {
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			c.logger.Warn("unparseable midpoint", "token_id", id, "value", s)
			continue
		}
		prices[id] = p
	}

	return prices, nil
}

var _ ingest.Source = (*Client)(nil)

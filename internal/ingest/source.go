package ingest

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceUnavailable marks network or API failures from the market
	// source. The cycle is abandoned and retried on the next interval.
	ErrSourceUnavailable = errors.New("market source unavailable")
	// ErrSourceRateLimited marks 429 responses. The cycle runner widens
	// the effective interval when it sees this.
	ErrSourceRateLimited = errors.New("market source rate limited")
)

// SourceToken is one outcome token as reported by the market source.
// Price is set when the listing carried a price inline (the active-only
// listing does; the full listing may not).
type SourceToken struct {
	TokenID string
	Outcome string
	Price   *float64
}

// SourceMarket is one market snapshot as reported by the market source.
type SourceMarket struct {
	ConditionID     string
	Question        string
	Slug            string
	EndDate         *time.Time
	Active          bool
	AcceptingOrders bool
	Closed          bool
	Tokens          []SourceToken
}

// Page is one page of a market listing.
type Page struct {
	Markets    []SourceMarket
	NextCursor string
}

// Source is the capability interface over the upstream market API. It keeps
// the ingestor testable with deterministic fixtures and independent of any
// wire format.
type Source interface {
	// ListMarkets returns one page of markets. An empty cursor requests the
	// first page; an empty NextCursor in the result means the listing is
	// exhausted. activeOnly restricts the listing to markets currently
	// accepting orders, with token prices inline.
	ListMarkets(ctx context.Context, cursor string, activeOnly bool) (Page, error)

	// Prices returns current prices for the given token IDs in one request.
	// Tokens without a price are absent from the result.
	Prices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

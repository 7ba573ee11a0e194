package store

import "time"

// Market is a single prediction question, keyed by its condition ID.
// Markets are never deleted; absence from a scan only means staleness.
type Market struct {
	ConditionID     string
	Question        string
	Slug            string
	EndDate         *time.Time
	Active          bool
	AcceptingOrders bool
	Closed          bool
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
}

// Token is one tradable outcome (e.g. YES/NO) belonging to a market.
type Token struct {
	TokenID     string
	ConditionID string
	Outcome     string
	FirstSeenAt time.Time
}

// PricePoint is one timestamped price observation for a token.
// Rows are append-only and never mutated.
type PricePoint struct {
	TokenID     string
	ConditionID string
	Price       float64
	CapturedAt  time.Time
}

// ActiveToken is a token joined with its parent market's question, for
// markets currently active and accepting orders.
type ActiveToken struct {
	TokenID     string
	ConditionID string
	Outcome     string
	Question    string
}

// Stats summarizes the database contents.
type Stats struct {
	Markets       int64
	ActiveMarkets int64
	Tokens        int64
	PricePoints   int64
	OldestPrice   *time.Time
	NewestPrice   *time.Time
}

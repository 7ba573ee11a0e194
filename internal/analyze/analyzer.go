// Package analyze computes windowed movement rankings over the price
// history. It only reads from the store; it never mutates and never calls
// the network.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"polyscan/internal/config"
	"polyscan/internal/store"
)

// Direction restricts mover rankings to one sign of change.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionBoth Direction = "both"
)

// ParseDirection validates a direction string from the query surface.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionUp, DirectionDown, DirectionBoth:
		return Direction(s), nil
	}
	return "", fmt.Errorf("invalid direction %q (want up, down, or both)", s)
}

// Change is one token's price movement over a window.
type Change struct {
	ConditionID string
	Question    string
	TokenID     string
	Outcome     string
	OldPrice    float64
	NewPrice    float64
	ChangePct   float64
	OldAt       time.Time
	NewAt       time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

// TrendingEntry is one token ranked by volatility: the sum of absolute
// consecutive price deltas within the window. An oscillating price ranks
// higher than a monotonic move of the same net amount.
type TrendingEntry struct {
	ConditionID string
	Question    string
	TokenID     string
	Outcome     string
	Volatility  float64
	Samples     int
	LatestPrice float64
	LatestAt    time.Time
}

// TokenDetail is one token's state within MarketDetail.
type TokenDetail struct {
	Token   store.Token
	Latest  *store.PricePoint
	History []store.PricePoint
}

// MarketDetail is a full view of one market.
type MarketDetail struct {
	Market store.Market
	Tokens []TokenDetail
}

// Analyzer answers analytical queries over the store.
type Analyzer struct {
	store *store.Store
	cfg   config.AnalyzeConfig

	// now is the window upper bound; overridable in tests.
	now func() time.Time
}

func New(st *store.Store, cfg config.AnalyzeConfig) *Analyzer {
	return &Analyzer{store: st, cfg: cfg, now: time.Now}
}

// SignificantChanges returns tokens whose absolute percent change within the
// window is at least thresholdPct, biggest movers first.
func (a *Analyzer) SignificantChanges(ctx context.Context, thresholdPct float64, window time.Duration, limit int) ([]Change, error) {
	changes, err := a.changes(ctx, window)
	if err != nil {
		return nil, err
	}

	filtered := changes[:0]
	for _, c := range changes {
		if math.Abs(c.ChangePct) >= thresholdPct {
			filtered = append(filtered, c)
		}
	}

	sortByMagnitude(filtered)
	return truncate(filtered, limit), nil
}

// TopMovers ranks tokens by price change over the window, optionally
// restricted to one direction. Ties break toward the most recent capture.
func (a *Analyzer) TopMovers(ctx context.Context, window time.Duration, limit int, dir Direction) ([]Change, error) {
	changes, err := a.changes(ctx, window)
	if err != nil {
		return nil, err
	}

	filtered := changes[:0]
	for _, c := range changes {
		switch dir {
		case DirectionUp:
			if c.ChangePct > 0 {
				filtered = append(filtered, c)
			}
		case DirectionDown:
			if c.ChangePct < 0 {
				filtered = append(filtered, c)
			}
		default:
			filtered = append(filtered, c)
		}
	}

	sortByMagnitude(filtered)
	return truncate(filtered, limit), nil
}

// Trending ranks tokens by volatility score within the window.
func (a *Analyzer) Trending(ctx context.Context, window time.Duration, limit int) ([]TrendingEntry, error) {
	tokens, err := a.store.ActiveTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("trending: %w", err)
	}

	now := a.now()
	since := now.Add(-window)

	var entries []TrendingEntry
	for _, tok := range tokens {
		points, err := a.store.PriceWindow(ctx, tok.TokenID, since)
		if err != nil {
			return nil, fmt.Errorf("trending: %w", err)
		}
		if len(points) < 2 {
			continue
		}

		vol := 0.0
		for i := 1; i < len(points); i++ {
			vol += math.Abs(points[i].Price - points[i-1].Price)
		}

		last := points[len(points)-1]
		entries = append(entries, TrendingEntry{
			ConditionID: tok.ConditionID,
			Question:    tok.Question,
			TokenID:     tok.TokenID,
			Outcome:     tok.Outcome,
			Volatility:  vol,
			Samples:     len(points),
			LatestPrice: last.Price,
			LatestAt:    last.CapturedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Volatility != entries[j].Volatility {
			return entries[i].Volatility > entries[j].Volatility
		}
		return entries[i].LatestAt.After(entries[j].LatestAt)
	})
	return truncate(entries, limit), nil
}

// MarketDetail returns a market with its tokens, each token's latest price,
// and its history over the configured default window.
func (a *Analyzer) MarketDetail(ctx context.Context, conditionID string) (MarketDetail, error) {
	market, err := a.store.MarketByID(ctx, conditionID)
	if err != nil {
		return MarketDetail{}, err
	}

	tokens, err := a.store.TokensForMarket(ctx, conditionID)
	if err != nil {
		return MarketDetail{}, err
	}

	since := a.now().Add(-time.Duration(a.cfg.WindowMinutes) * time.Minute)

	detail := MarketDetail{Market: market}
	for _, tok := range tokens {
		td := TokenDetail{Token: tok}

		latest, err := a.store.LatestPrice(ctx, tok.TokenID)
		if err == nil {
			td.Latest = &latest
		} else if !errors.Is(err, store.ErrNotFound) {
			return MarketDetail{}, err
		}

		if td.History, err = a.store.PriceWindow(ctx, tok.TokenID, since); err != nil {
			return MarketDetail{}, err
		}

		detail.Tokens = append(detail.Tokens, td)
	}
	return detail, nil
}

// changes computes the first-vs-last delta for every active token with at
// least two points in the window. Tokens whose earliest price is zero are
// skipped: the percent change is undefined, not infinite.
func (a *Analyzer) changes(ctx context.Context, window time.Duration) ([]Change, error) {
	tokens, err := a.store.ActiveTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing changes: %w", err)
	}

	now := a.now()
	since := now.Add(-window)

	var changes []Change
	for _, tok := range tokens {
		points, err := a.store.PriceWindow(ctx, tok.TokenID, since)
		if err != nil {
			return nil, fmt.Errorf("computing changes: %w", err)
		}
		if len(points) < 2 {
			continue
		}

		oldest := points[0]
		latest := points[len(points)-1]
		if oldest.Price == 0 {
			continue
		}

		changes = append(changes, Change{
			ConditionID: tok.ConditionID,
			Question:    tok.Question,
			TokenID:     tok.TokenID,
			Outcome:     tok.Outcome,
			OldPrice:    oldest.Price,
			NewPrice:    latest.Price,
			ChangePct:   (latest.Price - oldest.Price) / oldest.Price * 100,
			OldAt:       oldest.CapturedAt,
			NewAt:       latest.CapturedAt,
			WindowStart: since,
			WindowEnd:   now,
		})
	}
	return changes, nil
}

func sortByMagnitude(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		ai, aj := math.Abs(changes[i].ChangePct), math.Abs(changes[j].ChangePct)
		if ai != aj {
			return ai > aj
		}
		return changes[i].NewAt.After(changes[j].NewAt)
	})
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

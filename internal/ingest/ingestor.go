// Package ingest reconciles market snapshots from an external source into
// the store. Each scan is one cycle: everything is staged in memory while
// the network is in flight, then committed in a single transaction, so a
// cycle is either fully visible or fully absent.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polyscan/internal/config"
	"polyscan/internal/store"
)

// Scan modes reported in summaries.
const (
	ModeFull   = "full"
	ModeActive = "active"
)

// pagePause spaces listing requests to stay under upstream rate limits.
const pagePause = 100 * time.Millisecond

// Summary describes one completed ingestion cycle.
type Summary struct {
	Cycle     uuid.UUID
	Mode      string
	Markets   int
	Tokens    int
	Prices    int
	StartedAt time.Time
	Duration  time.Duration
}

// Ingestor pulls market and price snapshots from a Source and commits them
// to the store.
type Ingestor struct {
	source Source
	store  *store.Store
	cfg    config.ScanConfig
	logger *slog.Logger
}

func New(source Source, st *store.Store, cfg config.ScanConfig, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PriceBatchSize <= 0 {
		cfg.PriceBatchSize = 100
	}
	return &Ingestor{source: source, store: st, cfg: cfg, logger: logger}
}

// FullScan paginates the entire market listing (capped at limit when > 0),
// fetches current prices in batches, and commits one price point per priced
// token at a single shared cycle timestamp.
func (ing *Ingestor) FullScan(ctx context.Context, limit int) (Summary, error) {
	cycle := uuid.New()
	start := time.Now()

	markets, err := ing.collect(ctx, limit, false)
	if err != nil {
		return Summary{}, fmt.Errorf("full scan %s: %w", cycle, err)
	}

	// Second pass: batched price fetch for every token seen this cycle.
	tokenIDs := make([]string, 0, len(markets)*2)
	for _, m := range markets {
		for _, t := range m.Tokens {
			tokenIDs = append(tokenIDs, t.TokenID)
		}
	}

	prices := make(map[string]float64, len(tokenIDs))
	for i := 0; i < len(tokenIDs); i += ing.cfg.PriceBatchSize {
		end := i + ing.cfg.PriceBatchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}

		batch, err := ing.source.Prices(ctx, tokenIDs[i:end])
		if err != nil {
			return Summary{}, fmt.Errorf("full scan %s: fetching prices: %w", cycle, err)
		}
		for id, p := range batch {
			prices[id] = p
		}
	}

	summary, err := ing.commit(ctx, cycle, ModeFull, markets, prices)
	if err != nil {
		return Summary{}, err
	}
	summary.StartedAt = start
	summary.Duration = time.Since(start)

	ing.logger.Info("full scan complete",
		"cycle", cycle,
		"markets", summary.Markets,
		"tokens", summary.Tokens,
		"prices", summary.Prices,
		"duration", summary.Duration,
	)
	return summary, nil
}

// ActiveScan is the fast path: it lists only markets currently accepting
// orders, whose token prices arrive inline with the listing, so no second
// price pass is needed.
func (ing *Ingestor) ActiveScan(ctx context.Context, limit int) (Summary, error) {
	cycle := uuid.New()
	start := time.Now()

	markets, err := ing.collect(ctx, limit, true)
	if err != nil {
		return Summary{}, fmt.Errorf("active scan %s: %w", cycle, err)
	}

	prices := make(map[string]float64)
	for _, m := range markets {
		for _, t := range m.Tokens {
			if t.Price != nil {
				prices[t.TokenID] = *t.Price
			}
		}
	}

	summary, err := ing.commit(ctx, cycle, ModeActive, markets, prices)
	if err != nil {
		return Summary{}, err
	}
	summary.StartedAt = start
	summary.Duration = time.Since(start)

	ing.logger.Info("active scan complete",
		"cycle", cycle,
		"markets", summary.Markets,
		"tokens", summary.Tokens,
		"prices", summary.Prices,
		"duration", summary.Duration,
	)
	return summary, nil
}

// collect paginates the listing until the termination predicate fires.
// Nothing is written here; a failure mid-pagination abandons the whole
// cycle with the store untouched.
func (ing *Ingestor) collect(ctx context.Context, limit int, activeOnly bool) ([]SourceMarket, error) {
	var markets []SourceMarket
	cursor := ""

	for {
		page, err := ing.source.ListMarkets(ctx, cursor, activeOnly)
		if err != nil {
			return nil, fmt.Errorf("listing markets (cursor %q): %w", cursor, err)
		}

		markets = append(markets, page.Markets...)
		ing.logger.Debug("fetched listing page",
			"markets", len(page.Markets),
			"total", len(markets),
			"active_only", activeOnly,
		)

		if scanDone(page, len(markets), limit, activeOnly) {
			break
		}
		cursor = page.NextCursor

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pagePause):
		}
	}

	if limit > 0 && len(markets) > limit {
		markets = markets[:limit]
	}
	return markets, nil
}

// scanDone is the pagination termination predicate, evaluated after each
// page. The active-only listing ends early once a page carries no markets
// still accepting orders: everything past that point is the inactive tail.
func scanDone(page Page, collected, limit int, activeOnly bool) bool {
	if page.NextCursor == "" {
		return true
	}
	if limit > 0 && collected >= limit {
		return true
	}
	if activeOnly && collected > 0 && countAcceptingOrders(page) == 0 {
		return true
	}
	return false
}

func countAcceptingOrders(page Page) int {
	n := 0
	for _, m := range page.Markets {
		if m.AcceptingOrders {
			n++
		}
	}
	return n
}

// commit writes the staged cycle in one transaction: markets first, then
// their tokens, then one price point per priced token at a shared capture
// timestamp.
func (ing *Ingestor) commit(ctx context.Context, cycle uuid.UUID, mode string, markets []SourceMarket, prices map[string]float64) (Summary, error) {
	capturedAt := time.Now().UTC()
	summary := Summary{Cycle: cycle, Mode: mode}

	err := ing.store.InTx(ctx, func(tx *store.Store) error {
		for _, m := range markets {
			if err := tx.UpsertMarket(ctx, store.Market{
				ConditionID:     m.ConditionID,
				Question:        m.Question,
				Slug:            m.Slug,
				EndDate:         m.EndDate,
				Active:          m.Active,
				AcceptingOrders: m.AcceptingOrders,
				Closed:          m.Closed,
			}); err != nil {
				return err
			}
			summary.Markets++

			for _, t := range m.Tokens {
				if err := tx.UpsertToken(ctx, store.Token{
					TokenID:     t.TokenID,
					ConditionID: m.ConditionID,
					Outcome:     t.Outcome,
				}); err != nil {
					return err
				}
				summary.Tokens++

				if p, ok := prices[t.TokenID]; ok {
					if err := tx.AppendPrice(ctx, t.TokenID, p, capturedAt); err != nil {
						return err
					}
					summary.Prices++
				}
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("%s scan %s: committing cycle: %w", mode, cycle, err)
	}

	return summary, nil
}

// Package scheduler drives repeated ingestion cycles. Cycles are serialized
// by construction: one goroutine runs every scan, so overlapping cycles
// cannot happen. Tickers are measured start-to-start and missed ticks are
// dropped, so when a cycle overruns its interval the effective period is
// max(interval, cycle duration).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"polyscan/internal/analyze"
	"polyscan/internal/config"
	"polyscan/internal/ingest"
)

// Scanner runs ingestion cycles.
type Scanner interface {
	FullScan(ctx context.Context, limit int) (ingest.Summary, error)
	ActiveScan(ctx context.Context, limit int) (ingest.Summary, error)
}

// ChangeFinder reports significant movers after a successful cycle.
type ChangeFinder interface {
	SignificantChanges(ctx context.Context, thresholdPct float64, window time.Duration, limit int) ([]analyze.Change, error)
}

// Runner loops ingestion cycles until the context is cancelled. A failed
// cycle is logged and the loop continues; only cancellation stops it.
type Runner struct {
	scanner  Scanner
	analyzer ChangeFinder
	cfg      config.Config
	logger   *slog.Logger

	// Set after a rate-limited cycle; the next active tick is skipped,
	// widening the effective interval instead of hammering the source.
	skipNextActive bool
}

func New(scanner Scanner, analyzer ChangeFinder, cfg config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{scanner: scanner, analyzer: analyzer, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. The first cycle is a full scan run
// immediately to seed the market universe; afterwards active scans run at
// the short interval and full scans at the long one.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("cycle runner starting",
		"active_interval", r.cfg.Schedule.ActiveScanInterval.Duration,
		"full_interval", r.cfg.Schedule.FullScanInterval.Duration,
	)

	r.runCycle(ctx, ingest.ModeFull)

	activeTicker := time.NewTicker(r.cfg.Schedule.ActiveScanInterval.Duration)
	fullTicker := time.NewTicker(r.cfg.Schedule.FullScanInterval.Duration)
	defer activeTicker.Stop()
	defer fullTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cycle runner shutting down")
			return ctx.Err()
		case <-activeTicker.C:
			if r.skipNextActive {
				r.skipNextActive = false
				r.logger.Info("skipping active scan after rate limit")
				continue
			}
			r.runCycle(ctx, ingest.ModeActive)
		case <-fullTicker.C:
			r.runCycle(ctx, ingest.ModeFull)
		}
	}
}

// runCycle executes one scan. Failures abort only this cycle.
func (r *Runner) runCycle(ctx context.Context, mode string) {
	var (
		summary ingest.Summary
		err     error
	)
	if mode == ingest.ModeFull {
		summary, err = r.scanner.FullScan(ctx, r.cfg.Scan.MarketLimit)
	} else {
		summary, err = r.scanner.ActiveScan(ctx, r.cfg.Scan.MarketLimit)
	}

	if err != nil {
		if errors.Is(err, ingest.ErrSourceRateLimited) {
			r.skipNextActive = true
			r.logger.Warn("cycle rate limited, widening interval", "mode", mode, "error", err)
			return
		}
		r.logger.Error("cycle failed", "mode", mode, "error", err)
		return
	}

	r.logger.Info("cycle complete",
		"cycle", summary.Cycle,
		"mode", summary.Mode,
		"markets", summary.Markets,
		"tokens", summary.Tokens,
		"prices", summary.Prices,
		"duration", summary.Duration,
	)

	r.reportChanges(ctx)
}

// reportChanges logs the significant movers over the configured window.
func (r *Runner) reportChanges(ctx context.Context) {
	if r.analyzer == nil {
		return
	}

	window := time.Duration(r.cfg.Analyze.WindowMinutes) * time.Minute
	changes, err := r.analyzer.SignificantChanges(ctx, r.cfg.Analyze.ChangeThresholdPct, window, r.cfg.Analyze.DefaultLimit)
	if err != nil {
		r.logger.Error("change report failed", "error", err)
		return
	}
	if len(changes) == 0 {
		return
	}

	r.logger.Info("significant changes", "count", len(changes), "window", window)
	for i, c := range changes {
		if i == 10 {
			break
		}
		r.logger.Info("mover",
			"question", c.Question,
			"outcome", c.Outcome,
			"old", c.OldPrice,
			"new", c.NewPrice,
			"change_pct", c.ChangePct,
		)
	}
}

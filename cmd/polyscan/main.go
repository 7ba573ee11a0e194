package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polyscan/internal/analyze"
	"polyscan/internal/config"
	"polyscan/internal/db"
	"polyscan/internal/ingest"
	"polyscan/internal/polymarket"
	"polyscan/internal/scheduler"
	"polyscan/internal/store"
)

const usage = `usage: polyscan <command> [flags]

commands:
  run       run the scan scheduler until interrupted
  scan      run one scan cycle (-active for the fast path, -limit N)
  changes   list significant price changes (-threshold, -window, -limit)
  movers    list top movers (-window, -limit, -direction up|down|both)
  trending  list most volatile tokens (-window, -limit)
  market    show one market by condition id
  stats     show database statistics
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	configPath := "config.toml"
	if p := os.Getenv("POLYSCAN_CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.General.LogLevel),
	})))

	if err := run(os.Args[1], os.Args[2:], cfg); err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(command string, args []string, cfg *config.Config) error {
	database, err := db.Open(cfg.General.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	st := store.New(database)
	client := polymarket.NewClient(cfg.Source.ClobHost,
		polymarket.WithTimeout(cfg.Source.RequestTimeout.Duration),
		polymarket.WithRetries(cfg.Source.MaxRetries, cfg.Source.RetryBackoff.Duration),
	)
	ing := ingest.New(client, st, cfg.Scan, slog.Default())
	an := analyze.New(st, cfg.Analyze)

	ctx := context.Background()

	switch command {
	case "run":
		runner := scheduler.New(ing, an, *cfg, slog.Default())
		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if err := runner.Run(ctx); err != context.Canceled {
			return err
		}
		return nil

	case "scan":
		fs := flag.NewFlagSet("scan", flag.ExitOnError)
		active := fs.Bool("active", false, "scan only markets currently accepting orders")
		limit := fs.Int("limit", cfg.Scan.MarketLimit, "cap on markets to scan (0 = all)")
		fs.Parse(args)

		var summary ingest.Summary
		if *active {
			summary, err = ing.ActiveScan(ctx, *limit)
		} else {
			summary, err = ing.FullScan(ctx, *limit)
		}
		if err != nil {
			return err
		}
		fmt.Printf("cycle %s (%s): %d markets, %d tokens, %d prices in %s\n",
			summary.Cycle, summary.Mode, summary.Markets, summary.Tokens, summary.Prices,
			summary.Duration.Round(time.Millisecond))
		return nil

	case "changes":
		fs := flag.NewFlagSet("changes", flag.ExitOnError)
		threshold := fs.Float64("threshold", cfg.Analyze.ChangeThresholdPct, "minimum absolute percent change")
		window := fs.Int("window", cfg.Analyze.WindowMinutes, "window in minutes")
		limit := fs.Int("limit", cfg.Analyze.DefaultLimit, "maximum entries")
		fs.Parse(args)

		changes, err := an.SignificantChanges(ctx, *threshold, time.Duration(*window)*time.Minute, *limit)
		if err != nil {
			return err
		}
		printChanges(changes)
		return nil

	case "movers":
		fs := flag.NewFlagSet("movers", flag.ExitOnError)
		window := fs.Int("window", cfg.Analyze.WindowMinutes, "window in minutes")
		limit := fs.Int("limit", 20, "maximum entries")
		direction := fs.String("direction", "both", "up, down, or both")
		fs.Parse(args)

		dir, err := analyze.ParseDirection(*direction)
		if err != nil {
			return err
		}
		movers, err := an.TopMovers(ctx, time.Duration(*window)*time.Minute, *limit, dir)
		if err != nil {
			return err
		}
		printChanges(movers)
		return nil

	case "trending":
		fs := flag.NewFlagSet("trending", flag.ExitOnError)
		window := fs.Int("window", cfg.Analyze.WindowMinutes, "window in minutes")
		limit := fs.Int("limit", 10, "maximum entries")
		fs.Parse(args)

		entries, err := an.Trending(ctx, time.Duration(*window)*time.Minute, *limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no volatile tokens in window")
			return nil
		}
		for i, e := range entries {
			fmt.Printf("%2d. %-60.60s %-4s vol=%.4f n=%d last=%.3f\n",
				i+1, e.Question, e.Outcome, e.Volatility, e.Samples, e.LatestPrice)
		}
		return nil

	case "market":
		fs := flag.NewFlagSet("market", flag.ExitOnError)
		fs.Parse(args)
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: polyscan market <condition-id>")
		}

		detail, err := an.MarketDetail(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		m := detail.Market
		fmt.Printf("%s\n  condition: %s\n  active: %v accepting: %v closed: %v\n  last seen: %s\n",
			m.Question, m.ConditionID, m.Active, m.AcceptingOrders, m.Closed,
			m.LastSeenAt.Format(time.RFC3339))
		for _, td := range detail.Tokens {
			if td.Latest != nil {
				fmt.Printf("  %-4s %.3f at %s (%d points in window)\n",
					td.Token.Outcome, td.Latest.Price,
					td.Latest.CapturedAt.Format(time.RFC3339), len(td.History))
			} else {
				fmt.Printf("  %-4s no prices recorded\n", td.Token.Outcome)
			}
		}
		return nil

	case "stats":
		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("markets: %d (%d active)\ntokens: %d\nprice points: %d\n",
			stats.Markets, stats.ActiveMarkets, stats.Tokens, stats.PricePoints)
		if stats.OldestPrice != nil && stats.NewestPrice != nil {
			fmt.Printf("history: %s to %s\n",
				stats.OldestPrice.Format(time.RFC3339), stats.NewestPrice.Format(time.RFC3339))
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printChanges(changes []analyze.Change) {
	if len(changes) == 0 {
		fmt.Println("no matching changes in window")
		return
	}
	for i, c := range changes {
		fmt.Printf("%2d. %+7.2f%% %-60.60s %-4s %.3f -> %.3f\n",
			i+1, c.ChangePct, c.Question, c.Outcome, c.OldPrice, c.NewPrice)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

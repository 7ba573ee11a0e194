package analyze

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"polyscan/internal/config"
	"polyscan/internal/db"
	"polyscan/internal/store"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T) (*Analyzer, *store.Store) {
	t.Helper()

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database); err != nil {
		t.Fatal(err)
	}

	st := store.New(database)
	a := New(st, config.AnalyzeConfig{ChangeThresholdPct: 5, WindowMinutes: 60, DefaultLimit: 50})
	a.now = func() time.Time { return testNow }
	return a, st
}

func seedToken(t *testing.T, st *store.Store, conditionID, tokenID, outcome string) {
	t.Helper()
	ctx := context.Background()

	err := st.UpsertMarket(ctx, store.Market{
		ConditionID:     conditionID,
		Question:        "Question " + conditionID,
		Active:          true,
		AcceptingOrders: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertToken(ctx, store.Token{TokenID: tokenID, ConditionID: conditionID, Outcome: outcome}); err != nil {
		t.Fatal(err)
	}
}

func seedPrices(t *testing.T, st *store.Store, tokenID string, prices []float64, step time.Duration) {
	t.Helper()
	ctx := context.Background()

	// Points end just before testNow, spaced by step, oldest first.
	start := testNow.Add(-time.Duration(len(prices)-1)*step - time.Minute)
	for i, p := range prices {
		if err := st.AppendPrice(ctx, tokenID, p, start.Add(time.Duration(i)*step)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSignificantChanges_DeltaCorrectness(t *testing.T) {
	a, st := newTestAnalyzer(t)
	seedToken(t, st, "c1", "t1", "Yes")
	seedPrices(t, st, "t1", []float64{0.40, 0.44}, 10*time.Minute)

	changes, err := a.SignificantChanges(context.Background(), 5, time.Hour, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change above 5%%, got %d", len(changes))
	}

	c := changes[0]
	if math.Abs(c.ChangePct-10.0) > 1e-9 {
		t.Errorf("expected +10.00%% change, got %f", c.ChangePct)
	}
	if c.OldPrice != 0.40 || c.NewPrice != 0.44 {
		t.Errorf("wrong endpoints: %f -> %f", c.OldPrice, c.NewPrice)
	}
	if c.Question == "" || c.Outcome != "Yes" {
		t.Errorf("market info not carried: %+v", c)
	}
	if !c.WindowEnd.Equal(testNow) {
		t.Errorf("window end not wall-clock now: %v", c.WindowEnd)
	}

	// Same token excluded above an 11% threshold.
	changes, err = a.SignificantChanges(context.Background(), 11, time.Hour, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes above 11%%, got %d", len(changes))
	}
}

func TestChanges_ZeroEarliestPriceSkipped(t *testing.T) {
	a, st := newTestAnalyzer(t)
	seedToken(t, st, "c1", "t1", "Yes")
	seedPrices(t, st, "t1", []float64{0, 0.44}, 10*time.Minute)

	changes, err := a.TopMovers(context.Background(), time.Hour, 10, DirectionBoth)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("division by zero not skipped: %+v", changes)
	}
}

func TestChanges_SinglePointSkipped(t *testing.T) {
	a, st := newTestAnalyzer(t)
	seedToken(t, st, "c1", "t1", "Yes")
	seedPrices(t, st, "t1", []float64{0.50}, 10*time.Minute)

	changes, err := a.TopMovers(context.Background(), time.Hour, 10, DirectionBoth)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("token with one point must contribute no entry, got %+v", changes)
	}
}

func TestTopMovers_DirectionFilter(t *testing.T) {
	a, st := newTestAnalyzer(t)

	// Changes: +12%, -8%, +3%.
	seedToken(t, st, "c1", "t-up", "Yes")
	seedPrices(t, st, "t-up", []float64{0.50, 0.56}, 10*time.Minute)
	seedToken(t, st, "c2", "t-down", "Yes")
	seedPrices(t, st, "t-down", []float64{0.50, 0.46}, 10*time.Minute)
	seedToken(t, st, "c3", "t-small", "Yes")
	seedPrices(t, st, "t-small", []float64{0.50, 0.515}, 10*time.Minute)

	down, err := a.TopMovers(context.Background(), time.Hour, 5, DirectionDown)
	if err != nil {
		t.Fatal(err)
	}
	if len(down) != 1 || down[0].TokenID != "t-down" {
		t.Fatalf("direction=down must return only the -8%% entry, got %+v", down)
	}

	up, err := a.TopMovers(context.Background(), time.Hour, 5, DirectionUp)
	if err != nil {
		t.Fatal(err)
	}
	if len(up) != 2 || up[0].TokenID != "t-up" {
		t.Fatalf("direction=up must rank +12%% first, got %+v", up)
	}

	both, err := a.TopMovers(context.Background(), time.Hour, 5, DirectionBoth)
	if err != nil {
		t.Fatal(err)
	}
	if len(both) != 3 {
		t.Fatalf("expected 3 movers, got %d", len(both))
	}
	// Sorted by absolute magnitude: +12, -8, +3.
	if both[0].TokenID != "t-up" || both[1].TokenID != "t-down" || both[2].TokenID != "t-small" {
		t.Errorf("wrong magnitude order: %s, %s, %s", both[0].TokenID, both[1].TokenID, both[2].TokenID)
	}
}

func TestTopMovers_LimitTruncates(t *testing.T) {
	a, st := newTestAnalyzer(t)
	seedToken(t, st, "c1", "t1", "Yes")
	seedPrices(t, st, "t1", []float64{0.50, 0.56}, 10*time.Minute)
	seedToken(t, st, "c2", "t2", "Yes")
	seedPrices(t, st, "t2", []float64{0.50, 0.46}, 10*time.Minute)

	movers, err := a.TopMovers(context.Background(), time.Hour, 1, DirectionBoth)
	if err != nil {
		t.Fatal(err)
	}
	if len(movers) != 1 {
		t.Errorf("limit not applied, got %d entries", len(movers))
	}
}

func TestWindowBoundary_InclusiveLowerBound(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	window := time.Hour
	cutoff := testNow.Add(-window)

	// Token whose earliest point sits exactly on the boundary: included.
	seedToken(t, st, "c1", "t-on", "Yes")
	if err := st.AppendPrice(ctx, "t-on", 0.40, cutoff); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendPrice(ctx, "t-on", 0.44, testNow.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	// Token whose earlier point is one millisecond before the boundary:
	// only one point remains in the window, so it contributes nothing.
	seedToken(t, st, "c2", "t-off", "Yes")
	if err := st.AppendPrice(ctx, "t-off", 0.40, cutoff.Add(-time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendPrice(ctx, "t-off", 0.44, testNow.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	movers, err := a.TopMovers(ctx, window, 10, DirectionBoth)
	if err != nil {
		t.Fatal(err)
	}
	if len(movers) != 1 || movers[0].TokenID != "t-on" {
		t.Fatalf("boundary handling wrong: %+v", movers)
	}
}

func TestTrending_VolatilityBeatsNetChange(t *testing.T) {
	a, st := newTestAnalyzer(t)

	// Oscillating token: net change 0, volatility 0.3.
	seedToken(t, st, "c1", "t-osc", "Yes")
	seedPrices(t, st, "t-osc", []float64{0.5, 0.6, 0.5, 0.6}, 5*time.Minute)

	// Monotonic token: net change +10%, volatility 0.1.
	seedToken(t, st, "c2", "t-mono", "Yes")
	seedPrices(t, st, "t-mono", []float64{0.5, 0.6}, 5*time.Minute)

	entries, err := a.Trending(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].TokenID != "t-osc" {
		t.Errorf("oscillating token must rank first, got %s", entries[0].TokenID)
	}
	if entries[0].Volatility < 0.29 || entries[0].Volatility > 0.31 {
		t.Errorf("expected volatility ~0.3, got %f", entries[0].Volatility)
	}
	if entries[1].Volatility < 0.09 || entries[1].Volatility > 0.11 {
		t.Errorf("expected volatility ~0.1, got %f", entries[1].Volatility)
	}
}

func TestMarketDetail(t *testing.T) {
	a, st := newTestAnalyzer(t)
	ctx := context.Background()

	seedToken(t, st, "c1", "t1", "Yes")
	if err := st.UpsertToken(ctx, store.Token{TokenID: "t2", ConditionID: "c1", Outcome: "No"}); err != nil {
		t.Fatal(err)
	}
	seedPrices(t, st, "t1", []float64{0.40, 0.44}, 10*time.Minute)

	detail, err := a.MarketDetail(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Market.ConditionID != "c1" {
		t.Errorf("wrong market: %+v", detail.Market)
	}
	if len(detail.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(detail.Tokens))
	}

	for _, td := range detail.Tokens {
		switch td.Token.TokenID {
		case "t1":
			if td.Latest == nil || td.Latest.Price != 0.44 {
				t.Errorf("t1 latest price wrong: %+v", td.Latest)
			}
			if len(td.History) != 2 {
				t.Errorf("t1 history wrong: %d points", len(td.History))
			}
		case "t2":
			if td.Latest != nil {
				t.Errorf("t2 has no prices, got %+v", td.Latest)
			}
		}
	}
}

func TestMarketDetail_Unknown(t *testing.T) {
	a, _ := newTestAnalyzer(t)

	_, err := a.MarketDetail(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

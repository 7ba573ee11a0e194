package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"polyscan/internal/ingest"
)

func TestListMarkets_Pagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var resp marketsResponse
		switch r.URL.Query().Get("next_cursor") {
		case "":
			resp = marketsResponse{
				NextCursor: "page2",
				Data: []apiMarket{
					{ConditionID: "c1", Question: "One?", Active: true, AcceptingOrders: true,
						Tokens: []apiToken{{TokenID: "t1", Outcome: "Yes"}, {TokenID: "t2", Outcome: "No"}}},
				},
			}
		case "page2":
			resp = marketsResponse{
				NextCursor: "LTE=",
				Data: []apiMarket{
					{ConditionID: "c2", Question: "Two?",
						Tokens: []apiToken{{TokenID: "t3", Outcome: "Yes"}}},
				},
			}
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("next_cursor"))
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	ctx := context.Background()

	page1, err := c.ListMarkets(ctx, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1.Markets) != 1 || page1.NextCursor != "page2" {
		t.Fatalf("unexpected first page: %+v", page1)
	}
	if len(page1.Markets[0].Tokens) != 2 {
		t.Errorf("expected 2 tokens, got %d", len(page1.Markets[0].Tokens))
	}

	page2, err := c.ListMarkets(ctx, page1.NextCursor, false)
	if err != nil {
		t.Fatal(err)
	}
	if page2.NextCursor != "" {
		t.Errorf("end cursor not translated, got %q", page2.NextCursor)
	}
}

func TestListMarkets_ActiveOnlyUsesSamplingEndpoint(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		price := 0.62
		json.NewEncoder(w).Encode(marketsResponse{
			Data: []apiMarket{
				{ConditionID: "c1", Question: "Q?", Active: true, AcceptingOrders: true,
					Tokens: []apiToken{{TokenID: "t1", Outcome: "Yes", Price: &price}}},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	page, err := c.ListMarkets(context.Background(), "", true)
	if err != nil {
		t.Fatal(err)
	}
	if got := path.Load(); got != "/sampling-markets" {
		t.Errorf("expected /sampling-markets, got %v", got)
	}
	if p := page.Markets[0].Tokens[0].Price; p == nil || *p != 0.62 {
		t.Errorf("inline price not carried: %v", p)
	}
}

func TestListMarkets_SkipsPlaceholderEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(marketsResponse{
			Data: []apiMarket{
				{ConditionID: "", Question: "ghost"},
				{ConditionID: "c1", Question: "Q?",
					Tokens: []apiToken{{TokenID: "", Outcome: ""}, {TokenID: "t1", Outcome: "Yes"}}},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	page, err := c.ListMarkets(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(page.Markets))
	}
	if len(page.Markets[0].Tokens) != 1 {
		t.Errorf("expected placeholder token dropped, got %d tokens", len(page.Markets[0].Tokens))
	}
}

func TestPrices_BatchedMidpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/midpoints" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req []map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req) != 3 {
			t.Errorf("expected 3 token ids in one request, got %d", len(req))
		}
		json.NewEncoder(w).Encode(map[string]string{
			"t1": "0.52",
			"t2": "0.48",
			"t3": "not-a-number",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	prices, err := c.Prices(context.Background(), []string{"t1", "t2", "t3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(prices) != 2 {
		t.Fatalf("expected 2 parsed prices, got %d", len(prices))
	}
	if prices["t1"] != 0.52 || prices["t2"] != 0.48 {
		t.Errorf("wrong prices: %v", prices)
	}
}

func TestPrices_EmptyInput(t *testing.T) {
	c := NewClient("http://unused.invalid")
	prices, err := c.Prices(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(prices) != 0 {
		t.Errorf("expected empty map, got %v", prices)
	}
}

func TestRateLimited_SurfacesSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetries(0, time.Millisecond))
	_, err := c.ListMarkets(context.Background(), "", false)
	if !errors.Is(err, ingest.ErrSourceRateLimited) {
		t.Fatalf("expected ErrSourceRateLimited, got %v", err)
	}
}

func TestServerError_SurfacesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetries(1, time.Millisecond))
	_, err := c.ListMarkets(context.Background(), "", false)
	if !errors.Is(err, ingest.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestRetry_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(marketsResponse{Data: []apiMarket{{ConditionID: "c1", Question: "Q?"}}})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRetries(2, time.Millisecond))
	page, err := c.ListMarkets(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Markets) != 1 {
		t.Errorf("expected 1 market after retry, got %d", len(page.Markets))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

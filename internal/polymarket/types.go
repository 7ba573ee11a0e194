package polymarket

import (
	"time"

	"polyscan/internal/ingest"
)

// apiToken is the wire form of an outcome token in CLOB market payloads.
type apiToken struct {
	TokenID string   `json:"token_id"`
	Outcome string   `json:"outcome"`
	Price   *float64 `json:"price,omitempty"`
}

// apiMarket is the wire form of a market in CLOB listing payloads.
type apiMarket struct {
	ConditionID     string     `json:"condition_id"`
	Question        string     `json:"question"`
	MarketSlug      string     `json:"market_slug"`
	EndDateISO      string     `json:"end_date_iso"`
	Active          bool       `json:"active"`
	Closed          bool       `json:"closed"`
	AcceptingOrders bool       `json:"accepting_orders"`
	Tokens          []apiToken `json:"tokens"`
}

// marketsResponse is a page from /markets or /sampling-markets.
type marketsResponse struct {
	NextCursor string      `json:"next_cursor"`
	Data       []apiMarket `json:"data"`
}

func (m apiMarket) toSourceMarket() ingest.SourceMarket {
	sm := ingest.SourceMarket{
		ConditionID:     m.ConditionID,
		Question:        m.Question,
		Slug:            m.MarketSlug,
		Active:          m.Active,
		AcceptingOrders: m.AcceptingOrders,
		Closed:          m.Closed,
	}

	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			sm.EndDate = &t
		}
	}

	sm.Tokens = make([]ingest.SourceToken, 0, len(m.Tokens))
	for _, t := range m.Tokens {
		if t.TokenID == "" {
			// Placeholder tokens appear on markets without an order book.
			continue
		}
		sm.Tokens = append(sm.Tokens, ingest.SourceToken{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Price:   t.Price,
		})
	}
	return sm
}

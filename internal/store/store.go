// Package store owns the durable representation of markets, tokens, and
// price history. Markets and tokens are upserted in place; price history is
// append-only. All writes for one ingest cycle go through InTx so a cycle is
// either fully committed or fully absent.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by queries for unknown market or token IDs.
	ErrNotFound = errors.New("not found")
	// ErrUnknownMarket is returned when a token upsert references a market
	// that has not been written yet. Policy: reject, never auto-create a
	// placeholder market.
	ErrUnknownMarket = errors.New("unknown market")
)

// timeLayout keeps stored timestamps lexicographically sortable: fixed-width
// fractional seconds, unlike RFC3339Nano which trims trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides typed access to the scanner database.
type Store struct {
	db   DBTX
	root *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db, root: db}
}

// InTx executes fn within a single write transaction. If fn returns an
// error the transaction is rolled back and nothing becomes visible.
func (s *Store) InTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.root.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Store{db: tx, root: s.root}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// UpsertMarket inserts or refreshes a market row. Attributes are overwritten
// and last_seen_at is bumped; first_seen_at is kept from the first sighting.
// Calling twice with identical data leaves exactly one row.
func (s *Store) UpsertMarket(ctx context.Context, m Market) error {
	now := time.Now().UTC().Format(timeLayout)

	var endDate any
	if m.EndDate != nil {
		endDate = m.EndDate.UTC().Format(timeLayout)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (condition_id, question, slug, end_date, active, accepting_orders, closed, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(condition_id) DO UPDATE SET
			question = excluded.question,
			slug = excluded.slug,
			end_date = excluded.end_date,
			active = excluded.active,
			accepting_orders = excluded.accepting_orders,
			closed = excluded.closed,
			last_seen_at = excluded.last_seen_at`,
		m.ConditionID, m.Question, m.Slug, endDate,
		boolToInt(m.Active), boolToInt(m.AcceptingOrders), boolToInt(m.Closed),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting market %s: %w", m.ConditionID, err)
	}
	return nil
}

// UpsertToken inserts or refreshes a token row. The parent market must
// already exist; otherwise ErrUnknownMarket is returned.
func (s *Store) UpsertToken(ctx context.Context, t Token) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM markets WHERE condition_id = ?`, t.ConditionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking market %s: %w", t.ConditionID, err)
	}
	if exists == 0 {
		return fmt.Errorf("token %s references %s: %w", t.TokenID, t.ConditionID, ErrUnknownMarket)
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens (token_id, condition_id, outcome, first_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			condition_id = excluded.condition_id,
			outcome = excluded.outcome`,
		t.TokenID, t.ConditionID, t.Outcome, now,
	)
	if err != nil {
		return fmt.Errorf("upserting token %s: %w", t.TokenID, err)
	}
	return nil
}

// AppendPrice appends one immutable price point for a token. The parent
// token must exist; otherwise ErrNotFound is returned.
func (s *Store) AppendPrice(ctx context.Context, tokenID string, price float64, capturedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history (token_id, condition_id, price, captured_at)
		SELECT token_id, condition_id, ?, ? FROM tokens WHERE token_id = ?`,
		price, capturedAt.UTC().Format(timeLayout), tokenID,
	)
	if err != nil {
		return fmt.Errorf("appending price for %s: %w", tokenID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("appending price for %s: %w", tokenID, err)
	}
	if n == 0 {
		return fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}
	return nil
}

// PriceWindow returns the price points for a token captured at or after
// since, oldest first. The bound is inclusive.
func (s *Store) PriceWindow(ctx context.Context, tokenID string, since time.Time) ([]PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, condition_id, price, captured_at
		FROM price_history
		WHERE token_id = ? AND captured_at >= ?
		ORDER BY captured_at ASC`,
		tokenID, since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("querying price window for %s: %w", tokenID, err)
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		p, err := scanPricePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// LatestPrice returns the most recent price point for a token.
func (s *Store) LatestPrice(ctx context.Context, tokenID string) (PricePoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, condition_id, price, captured_at
		FROM price_history
		WHERE token_id = ?
		ORDER BY captured_at DESC
		LIMIT 1`,
		tokenID,
	)

	var p PricePoint
	var capturedAt string
	err := row.Scan(&p.TokenID, &p.ConditionID, &p.Price, &capturedAt)
	if err == sql.ErrNoRows {
		return PricePoint{}, fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}
	if err != nil {
		return PricePoint{}, fmt.Errorf("querying latest price for %s: %w", tokenID, err)
	}
	p.CapturedAt, err = time.Parse(timeLayout, capturedAt)
	if err != nil {
		return PricePoint{}, fmt.Errorf("parsing captured_at: %w", err)
	}
	return p, nil
}

// ActiveTokens returns tokens belonging to markets currently active and
// accepting orders, joined with the market question.
func (s *Store) ActiveTokens(ctx context.Context) ([]ActiveToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.token_id, t.condition_id, t.outcome, m.question
		FROM tokens t
		JOIN markets m ON t.condition_id = m.condition_id
		WHERE m.active = 1 AND m.accepting_orders = 1 AND m.closed = 0
		ORDER BY t.token_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []ActiveToken
	for rows.Next() {
		var t ActiveToken
		if err := rows.Scan(&t.TokenID, &t.ConditionID, &t.Outcome, &t.Question); err != nil {
			return nil, fmt.Errorf("scanning active token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// MarketByID returns a market by condition ID, or ErrNotFound.
func (s *Store) MarketByID(ctx context.Context, conditionID string) (Market, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT condition_id, question, slug, end_date, active, accepting_orders, closed, first_seen_at, last_seen_at
		FROM markets
		WHERE condition_id = ?`,
		conditionID,
	)

	var m Market
	var slug, endDate sql.NullString
	var active, accepting, closed int
	var firstSeen, lastSeen string
	err := row.Scan(&m.ConditionID, &m.Question, &slug, &endDate, &active, &accepting, &closed, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return Market{}, fmt.Errorf("market %s: %w", conditionID, ErrNotFound)
	}
	if err != nil {
		return Market{}, fmt.Errorf("querying market %s: %w", conditionID, err)
	}

	m.Slug = slug.String
	m.Active = active == 1
	m.AcceptingOrders = accepting == 1
	m.Closed = closed == 1
	if endDate.Valid {
		t, err := time.Parse(timeLayout, endDate.String)
		if err == nil {
			m.EndDate = &t
		}
	}
	if m.FirstSeenAt, err = time.Parse(timeLayout, firstSeen); err != nil {
		return Market{}, fmt.Errorf("parsing first_seen_at: %w", err)
	}
	if m.LastSeenAt, err = time.Parse(timeLayout, lastSeen); err != nil {
		return Market{}, fmt.Errorf("parsing last_seen_at: %w", err)
	}
	return m, nil
}

// TokensForMarket returns all tokens belonging to a market.
func (s *Store) TokensForMarket(ctx context.Context, conditionID string) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, condition_id, outcome, first_seen_at
		FROM tokens
		WHERE condition_id = ?
		ORDER BY outcome`,
		conditionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tokens for %s: %w", conditionID, err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var t Token
		var firstSeen string
		if err := rows.Scan(&t.TokenID, &t.ConditionID, &t.Outcome, &firstSeen); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		if t.FirstSeenAt, err = time.Parse(timeLayout, firstSeen); err != nil {
			return nil, fmt.Errorf("parsing first_seen_at: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Stats returns row counts and the capture-time span of the price history.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT count(*) FROM markets`, &st.Markets},
		{`SELECT count(*) FROM markets WHERE active = 1 AND closed = 0`, &st.ActiveMarkets},
		{`SELECT count(*) FROM tokens`, &st.Tokens},
		{`SELECT count(*) FROM price_history`, &st.PricePoints},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("querying stats: %w", err)
		}
	}

	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT min(captured_at), max(captured_at) FROM price_history`).Scan(&oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("querying price span: %w", err)
	}
	if oldest.Valid {
		t, err := time.Parse(timeLayout, oldest.String)
		if err != nil {
			return Stats{}, fmt.Errorf("parsing oldest capture time: %w", err)
		}
		st.OldestPrice = &t
	}
	if newest.Valid {
		t, err := time.Parse(timeLayout, newest.String)
		if err != nil {
			return Stats{}, fmt.Errorf("parsing newest capture time: %w", err)
		}
		st.NewestPrice = &t
	}
	return st, nil
}

func scanPricePoint(rows *sql.Rows) (PricePoint, error) {
	var p PricePoint
	var capturedAt string
	if err := rows.Scan(&p.TokenID, &p.ConditionID, &p.Price, &capturedAt); err != nil {
		return PricePoint{}, fmt.Errorf("scanning price point: %w", err)
	}
	t, err := time.Parse(timeLayout, capturedAt)
	if err != nil {
		return PricePoint{}, fmt.Errorf("parsing captured_at: %w", err)
	}
	p.CapturedAt = t
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

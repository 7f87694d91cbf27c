// Package history persists the order and cycle journal to DuckDB so a run
// can be audited after the fact. The store is append-mostly: orders are
// upserted as their status changes, cycle events are immutable.
package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stratalab/dcacycle/pkg/errors"
)

// CycleEvent is one recorded stage transition of the cycle engine.
type CycleEvent struct {
	Symbol      string
	Stage       types.CycleStage
	Note        string
	RealizedPnL decimal.Decimal
	CreatedAt   time.Time
}

// Store writes the trading journal to a DuckDB database. All methods are
// safe for concurrent use.
type Store struct {
	mu sync.Mutex

	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewStore opens (or creates) a DuckDB database at path and prepares the
// journal tables. Pass an empty path for an in-memory store.
func NewStore(path string) (*Store, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeHistoryFailed, "failed to create history directory", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeHistoryFailed, "failed to open DuckDB database", err)
	}

	store := &Store{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := store.createTables(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *Store) createTables() error {
	// Decimal columns are stored as TEXT to keep exact values.
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			symbol TEXT,
			side TEXT,
			kind TEXT,
			amount TEXT,
			price TEXT,
			status TEXT,
			filled_amount TEXT,
			avg_price TEXT,
			created_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to create orders table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cycle_events (
			symbol TEXT,
			stage TEXT,
			note TEXT,
			realized_pnl TEXT,
			created_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to create cycle_events table", err)
	}

	return nil
}

// RecordOrder upserts an order. Repeated records of the same order ID keep
// the original placement row and update the mutable fill fields.
func (s *Store) RecordOrder(order types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.sq.
		Insert("orders").
		Columns(
			"order_id", "symbol", "side", "kind", "amount", "price",
			"status", "filled_amount", "avg_price", "created_at",
		).
		Values(
			order.ID, order.Symbol, string(order.Side), string(order.Kind),
			order.Amount.String(), order.LimitPrice().String(),
			string(order.Status), order.FilledAmount.String(), order.AvgPrice.String(),
			order.CreatedAt,
		).
		Suffix(`ON CONFLICT (order_id) DO UPDATE SET
			status = excluded.status,
			filled_amount = excluded.filled_amount,
			avg_price = excluded.avg_price`).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record order", err)
	}

	return nil
}

// RecordCycleEvent appends one stage transition to the journal.
func (s *Store) RecordCycleEvent(event CycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := s.sq.
		Insert("cycle_events").
		Columns("symbol", "stage", "note", "realized_pnl", "created_at").
		Values(event.Symbol, string(event.Stage), event.Note, event.RealizedPnL.String(), event.CreatedAt).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record cycle event", err)
	}

	return nil
}

// Orders returns all recorded orders for a symbol in placement order.
func (s *Store) Orders(symbol string) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.sq.
		Select(
			"order_id", "symbol", "side", "kind", "amount", "price",
			"status", "filled_amount", "avg_price", "created_at",
		).
		From("orders").
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("created_at ASC").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query orders", err)
	}
	defer rows.Close()

	var orders []types.Order

	for rows.Next() {
		var order types.Order

		var side, kind, status, amount, price, filledAmount, avgPrice string

		err := rows.Scan(
			&order.ID, &order.Symbol, &side, &kind, &amount, &price,
			&status, &filledAmount, &avgPrice, &order.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan order row", err)
		}

		order.Side = types.PurchaseType(side)
		order.Kind = types.OrderKind(kind)
		order.Status = types.OrderStatus(status)
		order.Amount = parseDecimal(amount)
		order.FilledAmount = parseDecimal(filledAmount)
		order.AvgPrice = parseDecimal(avgPrice)

		if order.Kind == types.OrderKindLimit {
			order.Price = optional.Some(parseDecimal(price))
		} else {
			order.Price = optional.None[decimal.Decimal]()
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate order rows", err)
	}

	return orders, nil
}

// CycleEvents returns all recorded cycle events for a symbol in time order.
func (s *Store) CycleEvents(symbol string) ([]CycleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.sq.
		Select("symbol", "stage", "note", "realized_pnl", "created_at").
		From("cycle_events").
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("created_at ASC").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query cycle events", err)
	}
	defer rows.Close()

	var events []CycleEvent

	for rows.Next() {
		var event CycleEvent

		var stage, pnl string

		if err := rows.Scan(&event.Symbol, &stage, &event.Note, &pnl, &event.CreatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan cycle event row", err)
		}

		event.Stage = types.CycleStage(stage)
		event.RealizedPnL = parseDecimal(pnl)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate cycle event rows", err)
	}

	return events, nil
}

// OrderCount returns the number of recorded orders.
func (s *Store) OrderCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int

	err := s.db.QueryRow("SELECT COUNT(*) FROM orders").Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count orders", err)
	}

	return count, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to close history database", err)
	}

	return nil
}

func parseDecimal(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}

	return parsed
}

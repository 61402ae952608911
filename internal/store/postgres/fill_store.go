package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. The fills table is
// append-only; re-inserting a fill that was already recorded is a no-op so
// replayed exchange events never duplicate rows.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert appends a fill. Duplicate fill IDs are ignored.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, order_id, market_id, token_id, strategy_name,
			side, price_ticks, size_units, ts
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.OrderID, f.MarketID, f.TokenID, f.Strategy,
		string(f.Side), f.PriceTicks, f.SizeUnits, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

const fillSelectCols = `id, order_id, market_id, token_id, strategy_name,
	side, price_ticks, size_units, ts`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string

		if err := rows.Scan(
			&f.ID, &f.OrderID, &f.MarketID, &f.TokenID, &f.Strategy,
			&side, &f.PriceTicks, &f.SizeUnits, &f.Timestamp,
		); err != nil {
			return nil, err
		}
		f.Side = domain.OrderSide(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListByOrder returns fills for one order in execution order.
func (s *FillStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills
		 WHERE order_id = $1
		 ORDER BY ts ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for order %s: %w", orderID, err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills for order %s: %w", orderID, err)
	}
	return fills, nil
}

// ListSince returns fills executed at or after the given time, oldest first,
// with pagination. The daily archiver reads a trading day through this.
func (s *FillStore) ListSince(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE ts >= $1`
	args := []any{since}
	argIdx := 2

	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills since %s: %w", since.Format(time.RFC3339), err)
	}
	return fills, nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)

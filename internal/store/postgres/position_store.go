package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. One row per
// (market, token); the ledger snapshots its in-memory state through Upsert.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `market_id, token_id, strategy_name, size,
	avg_entry_price, mark_price, realized_pnl, unrealized_pnl,
	opened_at, updated_at`

// Upsert writes the current snapshot of a position, inserting on first touch
// and replacing all mutable fields afterwards.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, token_id, strategy_name, size,
			avg_entry_price, mark_price, realized_pnl, unrealized_pnl,
			opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, NOW()
		)
		ON CONFLICT (market_id, token_id) DO UPDATE SET
			strategy_name   = EXCLUDED.strategy_name,
			size            = EXCLUDED.size,
			avg_entry_price = EXCLUDED.avg_entry_price,
			mark_price      = EXCLUDED.mark_price,
			realized_pnl    = EXCLUDED.realized_pnl,
			unrealized_pnl  = EXCLUDED.unrealized_pnl,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.TokenID, p.Strategy, p.Size,
		p.AvgEntryPrice, p.MarkPrice, p.RealizedPnL, p.UnrealizedPnL,
		p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.MarketID, p.TokenID, err)
	}
	return nil
}

// Get retrieves the position for one (market, token) pair.
func (s *PositionStore) Get(ctx context.Context, marketID, tokenID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1 AND token_id = $2`, marketID, tokenID)

	var p domain.Position
	err := row.Scan(
		&p.MarketID, &p.TokenID, &p.Strategy, &p.Size,
		&p.AvgEntryPrice, &p.MarkPrice, &p.RealizedPnL, &p.UnrealizedPnL,
		&p.OpenedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, tokenID, err)
	}
	return p, nil
}

// ListOpen returns all positions with non-zero inventory.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE size <> 0
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.MarketID, &p.TokenID, &p.Strategy, &p.Size,
			&p.AvgEntryPrice, &p.MarkPrice, &p.RealizedPnL, &p.UnrealizedPnL,
			&p.OpenedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)

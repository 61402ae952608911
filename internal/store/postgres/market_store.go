package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `id, question, slug, outcome_yes, outcome_no,
	token_yes, token_no, condition_id, tick_size, expires_at,
	volume, status, created_at, updated_at`

// Upsert inserts or refreshes a market's metadata. Live quote fields are not
// persisted; they are rebuilt from the feed after a restart.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, slug, outcome_yes, outcome_no,
			token_yes, token_no, condition_id, tick_size, expires_at,
			volume, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			question     = EXCLUDED.question,
			slug         = EXCLUDED.slug,
			outcome_yes  = EXCLUDED.outcome_yes,
			outcome_no   = EXCLUDED.outcome_no,
			token_yes    = EXCLUDED.token_yes,
			token_no     = EXCLUDED.token_no,
			condition_id = EXCLUDED.condition_id,
			tick_size    = EXCLUDED.tick_size,
			expires_at   = EXCLUDED.expires_at,
			volume       = EXCLUDED.volume,
			status       = EXCLUDED.status,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Slug, m.Outcomes[0], m.Outcomes[1],
		m.TokenIDs[0], m.TokenIDs[1], m.ConditionID, m.TickSize, m.ExpiresAt,
		m.Volume, string(m.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

func scanMarket(scanner interface{ Scan(dest ...any) error }) (domain.Market, error) {
	var m domain.Market
	var status string

	err := scanner.Scan(
		&m.ID, &m.Question, &m.Slug, &m.Outcomes[0], &m.Outcomes[1],
		&m.TokenIDs[0], &m.TokenIDs[1], &m.ConditionID, &m.TickSize, &m.ExpiresAt,
		&m.Volume, &status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// Get retrieves a single market by ID.
func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets filtered by status. An empty status returns all.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY expires_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// contract_meta keys written with every block.
const (
	MetaOwner          = "owner"
	MetaOracleUpdater  = "oracle.updater"
	MetaOraclePrice    = "oracle.price"
	MetaOracleHeight   = "oracle.updated_height"
	MetaNextOptionID   = "next_option_id"
	MetaTotalDeposited = "totals.deposited"
	MetaTotalPaidOut   = "totals.paid_out"
	MetaHeight         = "chain.height"
	MetaHeadHash       = "chain.head_hash"
)

const upsertMetaSQL = `
	INSERT INTO contract_meta (key, value, updated_at) VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

// MetaStore implements domain.MetaStore on the contract_meta table.
type MetaStore struct {
	pool *pgxpool.Pool
}

// NewMetaStore creates a MetaStore backed by the given pool.
func NewMetaStore(pool *pgxpool.Pool) *MetaStore {
	return &MetaStore{pool: pool}
}

// GetMeta returns the value for key or domain.ErrNotFound.
func (s *MetaStore) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM contract_meta WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: meta %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta upserts key.
func (s *MetaStore) SetMeta(ctx context.Context, key, value string) error {
	if _, err := s.pool.Exec(ctx, upsertMetaSQL, key, value); err != nil {
		return fmt.Errorf("postgres: set meta %s: %w", key, err)
	}
	return nil
}

func loadMeta(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT key, value FROM contract_meta`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres: scan meta: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load meta rows: %w", err)
	}
	return meta, nil
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse %s %q: %w", field, s, err)
	}
	return v, nil
}

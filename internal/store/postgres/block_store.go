package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// BlockStore implements domain.BlockStore. SaveBlock also writes the state
// diff so blocks and contract rows always agree.
type BlockStore struct {
	pool *pgxpool.Pool
}

// NewBlockStore creates a BlockStore backed by the given pool.
func NewBlockStore(pool *pgxpool.Pool) *BlockStore {
	return &BlockStore{pool: pool}
}

const (
	insertBlockSQL = `
		INSERT INTO blocks (height, hash, parent_hash, state_digest, receipts_root, mined_at, expired, events)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertReceiptSQL = `
		INSERT INTO receipts (height, tx_index, tx_id, call, ok, result, events)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	upsertAccountSQL = `
		INSERT INTO collateral_accounts (owner, balance, updated_height)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (owner) DO UPDATE SET
			balance        = EXCLUDED.balance,
			updated_height = EXCLUDED.updated_height`

	upsertOptionSQL = `
		INSERT INTO options (
			id, holder, writer, option_type, strike_price, expiry,
			notional_amount, collateral_locked, status,
			created_height, settled_height, settlement_price, payoff
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6::numeric,
			$7::numeric, $8::numeric, $9,
			$10, $11, $12::numeric, $13::numeric
		)
		ON CONFLICT (id) DO UPDATE SET
			status           = EXCLUDED.status,
			settled_height   = EXCLUDED.settled_height,
			settlement_price = EXCLUDED.settlement_price,
			payoff           = EXCLUDED.payoff`

	upsertNonceSQL = `
		INSERT INTO sender_nonces (sender, last_nonce, updated_height)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (sender) DO UPDATE SET
			last_nonce     = EXCLUDED.last_nonce,
			updated_height = EXCLUDED.updated_height`
)

// SaveBlock writes the block, its receipts, the touched accounts and
// options and the contract scalars in one transaction.
func (s *BlockStore) SaveBlock(ctx context.Context, b domain.Block, diff domain.StateDiff) error {
	batch := &pgx.Batch{}

	expired, err := json.Marshal(nonNil(b.Expired))
	if err != nil {
		return fmt.Errorf("postgres: marshal expired: %w", err)
	}
	events, err := json.Marshal(nonNil(b.Events))
	if err != nil {
		return fmt.Errorf("postgres: marshal block events: %w", err)
	}
	batch.Queue(insertBlockSQL,
		int64(b.Height), b.Hash, b.ParentHash, b.StateDigest, b.ReceiptsRoot, b.MinedAt, expired, events)

	for _, r := range b.Receipts {
		call, err := json.Marshal(r.Call)
		if err != nil {
			return fmt.Errorf("postgres: marshal call %s: %w", r.TxID, err)
		}
		result, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("postgres: marshal result %s: %w", r.TxID, err)
		}
		evs, err := json.Marshal(nonNil(r.Events))
		if err != nil {
			return fmt.Errorf("postgres: marshal events %s: %w", r.TxID, err)
		}
		batch.Queue(insertReceiptSQL, int64(b.Height), r.TxIndex, r.TxID, call, r.Result.Ok, result, evs)
	}

	for _, a := range diff.Accounts {
		batch.Queue(upsertAccountSQL, a.Owner.String(), u64(a.Balance), int64(b.Height))
	}
	for _, o := range diff.Options {
		batch.Queue(upsertOptionSQL, optionArgs(o)...)
	}
	for _, n := range diff.Nonces {
		batch.Queue(upsertNonceSQL, n.Sender.String(), u64(n.Nonce), int64(b.Height))
	}

	for k, v := range map[string]string{
		MetaOwner:          diff.Owner.String(),
		MetaOracleUpdater:  diff.Oracle.Updater.String(),
		MetaOraclePrice:    u64(diff.Oracle.Price),
		MetaOracleHeight:   u64(diff.Oracle.UpdatedHeight),
		MetaNextOptionID:   u64(diff.NextOptionID),
		MetaTotalDeposited: u64(diff.Totals.Deposited),
		MetaTotalPaidOut:   u64(diff.Totals.PaidOut),
		MetaHeight:         u64(b.Height),
		MetaHeadHash:       b.Hash,
	} {
		batch.Queue(upsertMetaSQL, k, v)
	}

	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		n := batch.Len()
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < n; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: save block %d item %d: %w", b.Height, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: save block %d: %w", b.Height, err)
		}
		return nil
	})
}

// optionArgs binds o to upsertOptionSQL. uint64 amounts and the expiry go
// out as decimal text for the NUMERIC columns.
func optionArgs(o domain.Option) []any {
	return []any{
		int64(o.ID), o.Holder.String(), o.Writer.String(), o.Type.String(), u64(o.Strike), u64(o.Expiry),
		u64(o.Notional), u64(o.CollateralLocked), string(o.Status),
		int64(o.CreatedHeight), int64(o.SettledHeight), u64(o.SettlementPrice), u64(o.Payoff),
	}
}

const selectBlockCols = `height, hash, parent_hash, state_digest, receipts_root, mined_at, expired, events`

// GetBlock returns the block at height with its receipts.
func (s *BlockStore) GetBlock(ctx context.Context, height uint64) (domain.Block, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectBlockCols+` FROM blocks WHERE height = $1`, int64(height))
	b, err := scanBlock(row)
	if err != nil {
		return domain.Block{}, err
	}
	if b.Receipts, err = s.receipts(ctx, height, height); err != nil {
		return domain.Block{}, err
	}
	return b, nil
}

// LatestBlock returns the highest saved block with its receipts.
func (s *BlockStore) LatestBlock(ctx context.Context) (domain.Block, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectBlockCols+` FROM blocks ORDER BY height DESC LIMIT 1`)
	b, err := scanBlock(row)
	if err != nil {
		return domain.Block{}, err
	}
	if b.Receipts, err = s.receipts(ctx, b.Height, b.Height); err != nil {
		return domain.Block{}, err
	}
	return b, nil
}

// ListBlocks returns blocks with from <= height <= to in ascending order.
func (s *BlockStore) ListBlocks(ctx context.Context, from, to uint64) ([]domain.Block, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectBlockCols+` FROM blocks WHERE height BETWEEN $1 AND $2 ORDER BY height`,
		int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("postgres: list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []domain.Block
	index := make(map[uint64]int)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		index[b.Height] = len(blocks)
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list blocks rows: %w", err)
	}
	if len(blocks) == 0 {
		return nil, nil
	}

	receipts, err := s.receipts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if i, ok := index[r.Height]; ok {
			blocks[i].Receipts = append(blocks[i].Receipts, r)
		}
	}
	return blocks, nil
}

// GetReceipt returns the most recent receipt for txID.
func (s *BlockStore) GetReceipt(ctx context.Context, txID string) (domain.Receipt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT height, tx_index, tx_id, call, result, events
		FROM receipts WHERE tx_id = $1
		ORDER BY height DESC LIMIT 1`, txID)
	return scanReceipt(row)
}

func (s *BlockStore) receipts(ctx context.Context, from, to uint64) ([]domain.Receipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT height, tx_index, tx_id, call, result, events
		FROM receipts WHERE height BETWEEN $1 AND $2
		ORDER BY height, tx_index`, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list receipts rows: %w", err)
	}
	return out, nil
}

func scanBlock(row pgx.Row) (domain.Block, error) {
	var (
		b               domain.Block
		height          int64
		minedAt         time.Time
		expired, events []byte
	)
	err := row.Scan(&height, &b.Hash, &b.ParentHash, &b.StateDigest, &b.ReceiptsRoot, &minedAt, &expired, &events)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Block{}, fmt.Errorf("postgres: block: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Block{}, fmt.Errorf("postgres: scan block: %w", err)
	}
	b.Height = uint64(height)
	b.MinedAt = minedAt.UTC()
	if err := json.Unmarshal(expired, &b.Expired); err != nil {
		return domain.Block{}, fmt.Errorf("postgres: unmarshal expired: %w", err)
	}
	if err := json.Unmarshal(events, &b.Events); err != nil {
		return domain.Block{}, fmt.Errorf("postgres: unmarshal block events: %w", err)
	}
	if len(b.Expired) == 0 {
		b.Expired = nil
	}
	if len(b.Events) == 0 {
		b.Events = nil
	}
	return b, nil
}

func scanReceipt(row pgx.Row) (domain.Receipt, error) {
	var (
		r                    domain.Receipt
		height               int64
		call, result, events []byte
	)
	err := row.Scan(&height, &r.TxIndex, &r.TxID, &call, &result, &events)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Receipt{}, fmt.Errorf("postgres: receipt: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: scan receipt: %w", err)
	}
	r.Height = uint64(height)
	if err := json.Unmarshal(call, &r.Call); err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: unmarshal call: %w", err)
	}
	if err := json.Unmarshal(result, &r.Result); err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: unmarshal result: %w", err)
	}
	if err := json.Unmarshal(events, &r.Events); err != nil {
		return domain.Receipt{}, fmt.Errorf("postgres: unmarshal receipt events: %w", err)
	}
	if len(r.Events) == 0 {
		r.Events = nil
	}
	return r, nil
}

// nonNil keeps empty slices encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// StateStore implements domain.StateStore. Rows are written by
// BlockStore.SaveBlock; this store only reads them back.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a StateStore backed by the given pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// LoadSnapshot rebuilds the contract state from the last saved block. It
// reads inside a repeatable-read transaction so the rows agree with the
// meta values.
func (s *StateStore) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meta, err := loadMeta(ctx, tx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if _, ok := meta[MetaHeight]; !ok {
		return domain.Snapshot{}, fmt.Errorf("postgres: snapshot: %w", domain.ErrNotFound)
	}

	snap, err := snapshotFromMeta(meta)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Accounts, err = loadAccounts(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Options, err = loadOptions(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Nonces, err = loadNonces(ctx, tx); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func snapshotFromMeta(meta map[string]string) (domain.Snapshot, error) {
	snap := domain.Snapshot{
		Owner:     domain.Principal(meta[MetaOwner]),
		BlockHash: meta[MetaHeadHash],
	}
	snap.Oracle.Updater = domain.Principal(meta[MetaOracleUpdater])

	fields := []struct {
		key string
		dst *uint64
	}{
		{MetaOraclePrice, &snap.Oracle.Price},
		{MetaOracleHeight, &snap.Oracle.UpdatedHeight},
		{MetaNextOptionID, &snap.NextOptionID},
		{MetaTotalDeposited, &snap.Totals.Deposited},
		{MetaTotalPaidOut, &snap.Totals.PaidOut},
		{MetaHeight, &snap.Height},
	}
	for _, f := range fields {
		raw, ok := meta[f.key]
		if !ok {
			return domain.Snapshot{}, fmt.Errorf("postgres: snapshot missing meta %s", f.key)
		}
		v, err := parseU64(f.key, raw)
		if err != nil {
			return domain.Snapshot{}, err
		}
		*f.dst = v
	}
	return snap, nil
}

func loadAccounts(ctx context.Context, tx pgx.Tx) ([]domain.CollateralAccount, error) {
	rows, err := tx.Query(ctx, `SELECT owner, balance::text FROM collateral_accounts ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.CollateralAccount
	for rows.Next() {
		var owner, bal string
		if err := rows.Scan(&owner, &bal); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		v, err := parseU64("balance", bal)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.CollateralAccount{Owner: domain.Principal(owner), Balance: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load accounts rows: %w", err)
	}
	return out, nil
}

func loadNonces(ctx context.Context, tx pgx.Tx) ([]domain.SenderNonce, error) {
	rows, err := tx.Query(ctx, `SELECT sender, last_nonce::text FROM sender_nonces ORDER BY sender`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load nonces: %w", err)
	}
	defer rows.Close()

	var out []domain.SenderNonce
	for rows.Next() {
		var sender, raw string
		if err := rows.Scan(&sender, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan nonce: %w", err)
		}
		n, err := parseU64("last_nonce", raw)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.SenderNonce{Sender: domain.Principal(sender), Nonce: n})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load nonces rows: %w", err)
	}
	return out, nil
}

const selectOptionCols = `
	id, holder, writer, option_type, strike_price::text, expiry::text,
	notional_amount::text, collateral_locked::text, status,
	created_height, settled_height, settlement_price::text, payoff::text`

func loadOptions(ctx context.Context, tx pgx.Tx) ([]domain.Option, error) {
	rows, err := tx.Query(ctx, `SELECT `+selectOptionCols+` FROM options ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load options: %w", err)
	}
	defer rows.Close()

	var out []domain.Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load options rows: %w", err)
	}
	return out, nil
}

func scanOption(row pgx.Row) (domain.Option, error) {
	var (
		id, created, settled        int64
		holder, writer, typ, status string
		strike, expiry, notional    string
		locked, settlePrice, payoff string
	)
	if err := row.Scan(&id, &holder, &writer, &typ, &strike, &expiry,
		&notional, &locked, &status, &created, &settled, &settlePrice, &payoff); err != nil {
		return domain.Option{}, fmt.Errorf("postgres: scan option: %w", err)
	}

	t, err := domain.ParseOptionType(typ)
	if err != nil {
		return domain.Option{}, fmt.Errorf("postgres: option %d type %q: %w", id, typ, err)
	}
	o := domain.Option{
		ID:            uint64(id),
		Holder:        domain.Principal(holder),
		Writer:        domain.Principal(writer),
		Type:          t,
		Status:        domain.OptionStatus(status),
		CreatedHeight: uint64(created),
		SettledHeight: uint64(settled),
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *uint64
	}{
		{"strike_price", strike, &o.Strike},
		{"expiry", expiry, &o.Expiry},
		{"notional_amount", notional, &o.Notional},
		{"collateral_locked", locked, &o.CollateralLocked},
		{"settlement_price", settlePrice, &o.SettlementPrice},
		{"payoff", payoff, &o.Payoff},
	} {
		if *f.dst, err = parseU64(f.name, f.raw); err != nil {
			return domain.Option{}, err
		}
	}
	return o, nil
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StateStore persists the contract state snapshot.
type StateStore interface {
	// LoadSnapshot returns ErrNotFound when no block has been persisted.
	LoadSnapshot(ctx context.Context) (Snapshot, error)
}

// BlockStore persists mined blocks, their receipts and the state diff they
// produced. SaveBlock is atomic.
type BlockStore interface {
	SaveBlock(ctx context.Context, block Block, diff StateDiff) error
	GetBlock(ctx context.Context, height uint64) (Block, error)
	LatestBlock(ctx context.Context) (Block, error)
	ListBlocks(ctx context.Context, from, to uint64) ([]Block, error)
	GetReceipt(ctx context.Context, txID string) (Receipt, error)
}

// MetaStore is a small key/value table for node bookkeeping.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the oracle price for readers outside the node.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price, height uint64) error
	GetPrice(ctx context.Context, asset string) (price, height uint64, err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels and streams.
const (
	ChannelBlocks  = "ch:blocks"
	ChannelEvents  = "ch:events"
	StreamReceipts = "stream:receipts"
)

package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// PriceCache implements domain.PriceCache. Each asset is a hash at
// "oracle:price:{asset}" with fields "price" and "height".
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(asset string) string { return "oracle:price:" + asset }

// SetPrice stores the latest price and the height it was set at.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price, height uint64) error {
	err := pc.rdb.HSet(ctx, priceKey(asset),
		"price", strconv.FormatUint(price, 10),
		"height", strconv.FormatUint(height, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice returns the mirrored price or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (uint64, uint64, error) {
	vals, err := pc.rdb.HMGet(ctx, priceKey(asset), "price", "height").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, 0, fmt.Errorf("redis: price %s: %w", asset, domain.ErrNotFound)
	}
	price, err := strconv.ParseUint(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}
	height, err := strconv.ParseUint(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse price height %s: %w", asset, err)
	}
	return price, height, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/malikli-com/irole/internal/domain"
)

// ItemCache is a Redis-backed cache-aside store for StockItem reads.
// Reservation mutators are never cached: they always need a fresh
// row-locked read, and correctness would be jeopardized by a stale
// cached value.
type ItemCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewItemCache(addr string, ttl time.Duration) (*ItemCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &ItemCache{client: client, ttl: ttl}, nil
}

func (c *ItemCache) Close() error { return c.client.Close() }

func itemKey(id string) string { return "stock_item:" + id }

func (c *ItemCache) get(ctx context.Context, id string) (*domain.StockItem, error) {
	data, err := c.client.Get(ctx, itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var item domain.StockItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal cached item: %w", err)
	}
	return &item, nil
}

func (c *ItemCache) set(ctx context.Context, item domain.StockItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	return c.client.Set(ctx, itemKey(item.ID), data, c.ttl).Err()
}

func (c *ItemCache) invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, itemKey(id)).Err()
}

// CachedLedger wraps a PostgresLedger with cache-aside reads on GetItem.
// Every mutator delegates straight through and invalidates the cache
// entry afterward; ListLowStock always bypasses the cache since its
// result depends on the whole table, not one key.
type CachedLedger struct {
	store  *PostgresLedger
	cache  *ItemCache
	logger *slog.Logger
}

func NewCachedLedger(store *PostgresLedger, cache *ItemCache, logger *slog.Logger) *CachedLedger {
	return &CachedLedger{store: store, cache: cache, logger: logger}
}

func (c *CachedLedger) GetItem(ctx context.Context, itemID string) (domain.StockItem, error) {
	cached, err := c.cache.get(ctx, itemID)
	if err != nil {
		c.logger.Warn("cache read failed, falling back to db", "item_id", itemID, "error", err)
	} else if cached != nil {
		return *cached, nil
	}

	item, err := c.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.StockItem{}, err
	}
	if err := c.cache.set(ctx, item); err != nil {
		c.logger.Warn("cache write failed", "item_id", itemID, "error", err)
	}
	return item, nil
}

func (c *CachedLedger) ListLowStock(ctx context.Context) ([]domain.StockItem, error) {
	return c.store.ListLowStock(ctx)
}

func (c *CachedLedger) TryReserve(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	if err := c.store.TryReserve(ctx, tx, itemID, qty); err != nil {
		return err
	}
	return c.invalidateAfterCommit(ctx, tx, itemID)
}

func (c *CachedLedger) Release(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	if err := c.store.Release(ctx, tx, itemID, qty); err != nil {
		return err
	}
	return c.invalidateAfterCommit(ctx, tx, itemID)
}

func (c *CachedLedger) Fulfill(ctx context.Context, tx *sql.Tx, itemID string, qty int64) error {
	if err := c.store.Fulfill(ctx, tx, itemID, qty); err != nil {
		return err
	}
	return c.invalidateAfterCommit(ctx, tx, itemID)
}

func (c *CachedLedger) Adjust(ctx context.Context, itemID string, delta int64) (domain.StockItem, error) {
	item, err := c.store.Adjust(ctx, itemID, delta)
	if err != nil {
		return domain.StockItem{}, err
	}
	if err := c.cache.invalidate(ctx, itemID); err != nil {
		c.logger.Warn("cache invalidate failed", "item_id", itemID, "error", err)
	}
	return item, nil
}

// invalidateAfterCommit can't actually wait for the caller's commit (the
// mutator doesn't own the transaction), so it invalidates eagerly: a
// transaction that later rolls back just costs one extra cache miss on
// the next read, never a correctness problem, since GetItem always
// re-populates from the authoritative row.
func (c *CachedLedger) invalidateAfterCommit(ctx context.Context, tx *sql.Tx, itemID string) error {
	if err := c.cache.invalidate(ctx, itemID); err != nil {
		c.logger.Warn("cache invalidate failed", "item_id", itemID, "error", err)
	}
	return nil
}

var _ Ledger = (*CachedLedger)(nil)
var _ Ledger = (*PostgresLedger)(nil)

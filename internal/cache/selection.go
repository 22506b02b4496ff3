// Package cache keeps console selection sets in Redis so they survive composer restarts
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/assessment-composer/internal/composition"
)

const keyPrefix = "composer:selection:"

// kv is the subset of redis.Cmdable the cache uses
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// SelectionCache implements composition.SelectionStore on Redis
type SelectionCache struct {
	client kv
	ttl    time.Duration
}

var _ composition.SelectionStore = (*SelectionCache)(nil)

// NewSelectionCache creates a cache whose entries expire after ttl; zero keeps them forever
func NewSelectionCache(client redis.Cmdable, ttl time.Duration) *SelectionCache {
	return &SelectionCache{client: client, ttl: ttl}
}

// Key builds the cache key for a console session and assessment
func Key(consoleID, assessmentID string) string {
	return consoleID + ":" + assessmentID
}

// LoadSelection returns the stored selection; a missing key is an empty selection
func (c *SelectionCache) LoadSelection(ctx context.Context, key string) ([]composition.Selection, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load selection: %w", err)
	}

	var items []composition.Selection
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode selection: %w", err)
	}
	return items, nil
}

// SaveSelection stores items, deleting the key when the selection is empty
func (c *SelectionCache) SaveSelection(ctx context.Context, key string, items []composition.Selection) error {
	if len(items) == 0 {
		if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
			return fmt.Errorf("failed to clear selection: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode selection: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save selection: %w", err)
	}
	return nil
}

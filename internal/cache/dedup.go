// Package cache remembers which offer events were already processed so
// repeated platform notifications do not re-run reconciliation.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DedupStore records processed event ids for a TTL.
type DedupStore interface {
	// MarkProcessed returns true if eventID was newly marked.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	Close() error
}

// NewDedupStore connects to Redis when addr is set and falls back to an
// in-memory store otherwise or when Redis is unreachable.
func NewDedupStore(cfg RedisConfig, logger *zap.Logger) DedupStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		logger.Info("event dedup using in-memory store")
		return NewMemoryDedupStore()
	}
	store, err := NewRedisDedupStore(cfg)
	if err != nil {
		logger.Warn("redis unavailable, event dedup falls back to memory",
			zap.String("addr", cfg.Addr),
			zap.Error(err))
		return NewMemoryDedupStore()
	}
	logger.Info("event dedup using redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return store
}

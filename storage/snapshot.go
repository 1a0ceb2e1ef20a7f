package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/internal/consts"
	"board-sync/remote"
)

// SnapshotCache keeps the last known board in Redis so the next start can
// hydrate without the lane and task round-trips.
type SnapshotCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewSnapshotCache creates a cache using the provided Redis client and TTL. A
// nil client disables the cache.
func NewSnapshotCache(client *redis.Client, ttl time.Duration, logger *log.Logger) *SnapshotCache {
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &SnapshotCache{redis: client, ttl: ttl, logger: logger}
}

// Load returns the cached initial-state payload for board. Unreadable entries
// are evicted and reported as a miss.
func (c *SnapshotCache) Load(ctx context.Context, board string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotKey(board)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("board", board).Warn("snapshot cache read failed")
			c.evictUnreadable(ctx, board)
		}
		return nil, false
	}
	if _, err := remote.DecodeSnapshot(data); err != nil {
		c.logger.WithError(err).WithField("board", board).Warn("dropping unreadable snapshot")
		c.evictUnreadable(ctx, board)
		return nil, false
	}
	return data, true
}

func (c *SnapshotCache) evictUnreadable(ctx context.Context, board string) {
	if err := c.redis.Del(ctx, snapshotKey(board)).Err(); err != nil {
		c.logger.WithError(err).WithField("board", board).Warn("snapshot eviction failed")
	}
}

// Save stores snap for board. Collapse and loading flags are not kept; lanes
// whose tasks were never fetched are marked as such.
func (c *SnapshotCache) Save(ctx context.Context, board string, snap domain.Snapshot) error {
	if c.redis == nil || c.ttl == 0 {
		return nil
	}
	data, err := remote.EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.redis.Set(ctx, snapshotKey(board), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	c.logger.WithFields(log.Fields{"board": board, "lanes": len(snap.Lanes), "tasks": len(snap.Tasks)}).Debug("snapshot cached")
	return nil
}

func (c *SnapshotCache) Evict(ctx context.Context, board string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, snapshotKey(board)).Err()
}

func snapshotKey(board string) string {
	return consts.SnapshotKeyPrefix + board
}

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "solstake:block_time:"

// BlockTimeStore keeps resolved slot timestamps in Redis so that every
// process talking to the same cluster shares them. Block times are immutable,
// so entries only expire to bound memory.
type BlockTimeStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBlockTimeStore connects to the Redis instance at url. A zero ttl keeps
// entries forever.
func NewBlockTimeStore(url string, ttl time.Duration) (*BlockTimeStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &BlockTimeStore{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (s *BlockTimeStore) Close() error {
	return s.rdb.Close()
}

// GetBlockTime returns the stored time for slot, if any.
func (s *BlockTimeStore) GetBlockTime(ctx context.Context, slot uint64) (time.Time, bool, error) {
	val, err := s.rdb.Get(ctx, blockTimeKey(slot)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get failed: %w", err)
	}
	t, err := parseBlockTime(val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetBlockTime stores a resolved time for slot.
func (s *BlockTimeStore) SetBlockTime(ctx context.Context, slot uint64, t time.Time) error {
	if err := s.rdb.Set(ctx, blockTimeKey(slot), formatBlockTime(t), s.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func blockTimeKey(slot uint64) string {
	return keyPrefix + strconv.FormatUint(slot, 10)
}

// Block times have second resolution on chain.
func formatBlockTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseBlockTime(val string) (time.Time, error) {
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid block time %q: %w", val, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

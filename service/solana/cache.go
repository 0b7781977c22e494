package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
)

// BlockTimeStore is a shared, process-external cache of slot timestamps.
// Implementations must only ever be handed resolved times.
type BlockTimeStore interface {
	GetBlockTime(ctx context.Context, slot uint64) (time.Time, bool, error)
	SetBlockTime(ctx context.Context, slot uint64, t time.Time) error
}

// BlockTimeCache is a two tier cache of slot timestamps: an in-process LRU
// in front of an optional shared store. Block times never change once
// produced, so entries carry no TTL.
type BlockTimeCache struct {
	mem     *lru.Cache[uint64, time.Time]
	remote  BlockTimeStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBlockTimeCache creates a cache holding up to size entries in memory.
// remote may be nil.
func NewBlockTimeCache(size int, remote BlockTimeStore, m *metrics.Metrics, logger *slog.Logger) (*BlockTimeCache, error) {
	mem, err := lru.New[uint64, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create block time cache: %w", err)
	}
	return &BlockTimeCache{
		mem:     mem,
		remote:  remote,
		metrics: m,
		logger:  logger,
	}, nil
}

// Get returns the cached time for slot, consulting the shared store on a
// memory miss and promoting hits into memory.
func (c *BlockTimeCache) Get(ctx context.Context, slot uint64) (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}

	if t, ok := c.mem.Get(slot); ok {
		c.recordLookup("memory", true)
		return t, true
	}
	c.recordLookup("memory", false)

	if c.remote == nil {
		return time.Time{}, false
	}

	t, ok, err := c.remote.GetBlockTime(ctx, slot)
	if err != nil {
		c.logger.WarnContext(ctx, "shared block time cache lookup failed",
			"slot", slot,
			"error", err,
		)
		return time.Time{}, false
	}
	c.recordLookup("redis", ok)
	if ok {
		c.mem.Add(slot, t)
	}
	return t, ok
}

// Add stores a resolved time in both tiers.
func (c *BlockTimeCache) Add(ctx context.Context, slot uint64, t time.Time) {
	if c == nil {
		return
	}
	c.mem.Add(slot, t)
	if c.remote == nil {
		return
	}
	if err := c.remote.SetBlockTime(ctx, slot, t); err != nil {
		c.logger.WarnContext(ctx, "failed to write shared block time cache",
			"slot", slot,
			"error", err,
		)
	}
}

func (c *BlockTimeCache) recordLookup(tier string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordBlockTimeCacheLookup(tier, hit)
	}
}

type rewardKey struct {
	epoch   uint64
	address solana.PublicKey
}

// rewardEntry caches a finalized reward lookup. A nil reward records that
// the address earned nothing in the epoch.
type rewardEntry struct {
	reward *InflationReward
}

func newRewardCache(size int) *lru.Cache[rewardKey, rewardEntry] {
	if size <= 0 {
		return nil
	}
	cache, err := lru.New[rewardKey, rewardEntry](size)
	if err != nil {
		return nil
	}
	return cache
}

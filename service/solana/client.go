package solana

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetProgramAccountsWithOpts(
		ctx context.Context,
		programID solana.PublicKey,
		opts *rpc.GetProgramAccountsOpts,
	) (rpc.GetProgramAccountsResult, error)

	GetAccountInfoWithOpts(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetInflationReward(
		ctx context.Context,
		addresses []solana.PublicKey,
		opts *rpc.GetInflationRewardOpts,
	) ([]*rpc.GetInflationRewardResult, error)

	GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error)

	GetEpochSchedule(ctx context.Context) (*rpc.GetEpochScheduleResult, error)

	GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error)

	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

// Client exposes the ledger operations the stake engine needs.
// It wraps the RPC client with domain types, logging, metrics and caching.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // endpoint label for metrics (host only)
	commitment rpc.CommitmentType
	blockTimes *BlockTimeCache
	rewards    *lru.Cache[rewardKey, rewardEntry]

	// latestEpoch is the newest epoch seen from GetEpochInfo.
	latestEpoch atomic.Uint64
}

// ClientOption configures optional Client behaviour.
type ClientOption func(*Client)

// WithCommitment sets the commitment used for account, balance and epoch reads.
// Inflation rewards are always read at finalized.
func WithCommitment(commitment rpc.CommitmentType) ClientOption {
	return func(c *Client) {
		c.commitment = commitment
	}
}

// WithBlockTimeCache installs a cache consulted before GetBlockTime.
func WithBlockTimeCache(cache *BlockTimeCache) ClientOption {
	return func(c *Client) {
		c.blockTimes = cache
	}
}

// WithRewardCacheSize caches finalized inflation reward lookups.
func WithRewardCacheSize(size int) ClientOption {
	return func(c *Client) {
		c.rewards = newRewardCache(size)
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		commitment: rpc.CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DialConfig describes how to reach the ledger.
type DialConfig struct {
	Endpoints       []string
	Commitment      rpc.CommitmentType
	RateLimit       float64
	RateBurst       int
	BlockTimes      *BlockTimeCache // optional
	RewardCacheSize int             // 0 disables the reward cache
}

// Dial picks one endpoint from the pool and builds a Client for it.
// The chosen endpoint is returned so callers can derive its websocket URL.
func Dial(cfg DialConfig, m *metrics.Metrics, logger *slog.Logger) (*Client, string, error) {
	endpoint, err := SelectRandomEndpoint(cfg.Endpoints)
	if err != nil {
		return nil, "", err
	}
	label := EndpointLabel(endpoint)

	rpcOpts := RPCOptions{
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
	if m != nil {
		rpcOpts.OnWait = func(d time.Duration) {
			m.RecordRateLimitWait(label, d.Seconds())
		}
	}

	var opts []ClientOption
	if cfg.Commitment != "" {
		opts = append(opts, WithCommitment(cfg.Commitment))
	}
	if cfg.BlockTimes != nil {
		opts = append(opts, WithBlockTimeCache(cfg.BlockTimes))
	}
	if cfg.RewardCacheSize > 0 {
		opts = append(opts, WithRewardCacheSize(cfg.RewardCacheSize))
	}

	logger.Info("initialized solana RPC client",
		"endpoint", label,
		"total_endpoints", len(cfg.Endpoints),
		"rate_limit", cfg.RateLimit,
	)
	return NewClient(NewRPCClient(endpoint, rpcOpts), label, m, logger, opts...), endpoint, nil
}

// ScanProgramAccounts returns every account owned by programID that matches filter.
func (c *Client) ScanProgramAccounts(ctx context.Context, programID solana.PublicKey, filter ProgramFilter) ([]*Account, error) {
	opts := &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{DataSize: filter.DataSize},
			{Memcmp: &rpc.RPCFilterMemcmp{
				Offset: filter.AuthorityOffset,
				Bytes:  solana.Base58(filter.Authority.Bytes()),
			}},
		},
	}

	start := time.Now()
	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, programID, opts)
	c.record(ctx, "GetProgramAccounts", start, err)
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(out))
	for _, keyed := range out {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		accounts = append(accounts, accountFromRPC(keyed.Pubkey, keyed.Account, 0))
	}

	c.logger.DebugContext(ctx, "scanned program accounts",
		"program", programID.String(),
		"authority", filter.Authority.String(),
		"count", len(accounts),
	)

	return accounts, nil
}

// GetAccount fetches a single account. It returns (nil, nil) when the ledger
// has no account at address.
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		c.record(ctx, "GetAccountInfo", start, nil)
		return nil, nil
	}
	c.record(ctx, "GetAccountInfo", start, err)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}

	return accountFromRPC(address, out.Value, out.Context.Slot), nil
}

// GetInflationReward returns the finalized rewards for addresses in epoch,
// positionally aligned with addresses. Entries are nil where the address
// earned nothing. Empty entries are only cached once the epoch is at least two
// behind the latest epoch seen, since the previous epoch's payout may still
// be in progress.
func (c *Client) GetInflationReward(ctx context.Context, addresses []solana.PublicKey, epoch uint64) ([]*InflationReward, error) {
	out := make([]*InflationReward, len(addresses))

	missing := make([]solana.PublicKey, 0, len(addresses))
	missingIdx := make([]int, 0, len(addresses))
	for i, addr := range addresses {
		if c.rewards != nil {
			if entry, ok := c.rewards.Get(rewardKey{epoch: epoch, address: addr}); ok {
				out[i] = entry.reward
				continue
			}
		}
		missing = append(missing, addr)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	e := epoch
	start := time.Now()
	results, err := c.rpc.GetInflationReward(ctx, missing, &rpc.GetInflationRewardOpts{
		Commitment: rpc.CommitmentFinalized,
		Epoch:      &e,
	})
	c.record(ctx, "GetInflationReward", start, err)
	if err != nil {
		return nil, err
	}

	for j, addr := range missing {
		var reward *InflationReward
		if j < len(results) && results[j] != nil {
			r := results[j]
			reward = &InflationReward{
				Epoch:         r.Epoch,
				EffectiveSlot: r.EffectiveSlot,
				Amount:        r.Amount,
				PostBalance:   r.PostBalance,
			}
			if reward.Epoch == 0 {
				reward.Epoch = epoch
			}
		}
		out[missingIdx[j]] = reward
		if c.rewards != nil && (reward != nil || c.rewardsSettled(epoch)) {
			c.rewards.Add(rewardKey{epoch: epoch, address: addr}, rewardEntry{reward: reward})
		}
	}

	return out, nil
}

// GetEpochInfo returns the ledger's current epoch position.
func (c *Client) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	start := time.Now()
	out, err := c.rpc.GetEpochInfo(ctx, c.commitment)
	c.record(ctx, "GetEpochInfo", start, err)
	if err != nil {
		return nil, err
	}
	for {
		seen := c.latestEpoch.Load()
		if out.Epoch <= seen || c.latestEpoch.CompareAndSwap(seen, out.Epoch) {
			break
		}
	}
	return &EpochInfo{
		Epoch:        out.Epoch,
		SlotIndex:    out.SlotIndex,
		SlotsInEpoch: out.SlotsInEpoch,
		AbsoluteSlot: out.AbsoluteSlot,
	}, nil
}

// rewardsSettled reports whether epoch's rewards can no longer change.
func (c *Client) rewardsSettled(epoch uint64) bool {
	return epoch+1 < c.latestEpoch.Load()
}

// GetEpochSchedule returns the cluster's epoch layout.
func (c *Client) GetEpochSchedule(ctx context.Context) (*EpochSchedule, error) {
	start := time.Now()
	out, err := c.rpc.GetEpochSchedule(ctx)
	c.record(ctx, "GetEpochSchedule", start, err)
	if err != nil {
		return nil, err
	}
	return &EpochSchedule{
		SlotsPerEpoch:    out.SlotsPerEpoch,
		FirstNormalEpoch: out.FirstNormalEpoch,
		FirstNormalSlot:  out.FirstNormalSlot,
		Warmup:           out.Warmup,
	}, nil
}

// GetBlockTime returns the production time of slot. ok is false when the
// ledger has no time for the slot (skipped slot, or not yet available).
func (c *Client) GetBlockTime(ctx context.Context, slot uint64) (t time.Time, ok bool, err error) {
	if cached, hit := c.blockTimes.Get(ctx, slot); hit {
		return cached, true, nil
	}

	start := time.Now()
	out, err := c.rpc.GetBlockTime(ctx, slot)
	c.record(ctx, "GetBlockTime", start, err)
	if err != nil {
		return time.Time{}, false, err
	}
	if out == nil || *out == 0 {
		return time.Time{}, false, nil
	}

	t = time.Unix(int64(*out), 0).UTC()
	c.blockTimes.Add(ctx, slot, t)
	return t, true, nil
}

// GetBalance returns the native balance of address in lamports.
func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, address, c.commitment)
	c.record(ctx, "GetBalance", start, err)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (c *Client) record(ctx context.Context, method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.logger.ErrorContext(ctx, "solana rpc call failed",
			"method", method,
			"endpoint", c.endpoint,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
	}
}

func accountFromRPC(address solana.PublicKey, acct *rpc.Account, slot uint64) *Account {
	out := &Account{
		Address:  address,
		Lamports: acct.Lamports,
		Owner:    acct.Owner,
		Slot:     slot,
	}
	if acct.Data != nil {
		out.Data = acct.Data.GetBinary()
	}
	return out
}

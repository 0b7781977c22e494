package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	programAccounts rpc.GetProgramAccountsResult
	accounts        map[solana.PublicKey]*rpc.GetAccountInfoResult
	rewards         map[uint64]map[solana.PublicKey]*rpc.GetInflationRewardResult
	epochInfo       *rpc.GetEpochInfoResult
	schedule        *rpc.GetEpochScheduleResult
	blockTimes      map[uint64]solana.UnixTimeSeconds
	balance         uint64
	err             error

	lastProgramOpts *rpc.GetProgramAccountsOpts
	rewardCalls     int
	blockTimeCalls  int
}

func (m *mockRPCClient) GetProgramAccountsWithOpts(
	ctx context.Context,
	programID solana.PublicKey,
	opts *rpc.GetProgramAccountsOpts,
) (rpc.GetProgramAccountsResult, error) {
	m.lastProgramOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.programAccounts, nil
}

func (m *mockRPCClient) GetAccountInfoWithOpts(
	ctx context.Context,
	account solana.PublicKey,
	opts *rpc.GetAccountInfoOpts,
) (*rpc.GetAccountInfoResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	out, ok := m.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return out, nil
}

func (m *mockRPCClient) GetInflationReward(
	ctx context.Context,
	addresses []solana.PublicKey,
	opts *rpc.GetInflationRewardOpts,
) ([]*rpc.GetInflationRewardResult, error) {
	m.rewardCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*rpc.GetInflationRewardResult, len(addresses))
	for i, addr := range addresses {
		out[i] = m.rewards[*opts.Epoch][addr]
	}
	return out, nil
}

func (m *mockRPCClient) GetEpochInfo(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetEpochInfoResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.epochInfo, nil
}

func (m *mockRPCClient) GetEpochSchedule(ctx context.Context) (*rpc.GetEpochScheduleResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.schedule, nil
}

func (m *mockRPCClient) GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error) {
	m.blockTimeCalls++
	if m.err != nil {
		return nil, m.err
	}
	ts, ok := m.blockTimes[slot]
	if !ok {
		return nil, errors.New("slot was skipped, or missing in long-term storage")
	}
	return &ts, nil
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func newTestClient(mock *mockRPCClient, opts ...ClientOption) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", nil, logger, opts...)
}

func TestScanProgramAccounts(t *testing.T) {
	ctx := context.Background()
	owner := solana.NewWallet().PublicKey()
	stakeAddr := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{
		programAccounts: rpc.GetProgramAccountsResult{
			{
				Pubkey: stakeAddr,
				Account: &rpc.Account{
					Lamports: 5_000_000_000,
					Owner:    StakeProgramID,
					Data:     rpc.DataBytesOrJSONFromBytes(make([]byte, StakeAccountSize)),
				},
			},
			nil,
		},
	}
	client := newTestClient(mock)

	accounts, err := client.ScanProgramAccounts(ctx, StakeProgramID, StakeAuthorityFilter(owner))
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, stakeAddr, accounts[0].Address)
	assert.Equal(t, uint64(5_000_000_000), accounts[0].Lamports)
	assert.Len(t, accounts[0].Data, StakeAccountSize)

	// The scan must filter by data size and staker authority at offset 12.
	require.NotNil(t, mock.lastProgramOpts)
	require.Len(t, mock.lastProgramOpts.Filters, 2)
	assert.Equal(t, uint64(StakeAccountSize), mock.lastProgramOpts.Filters[0].DataSize)
	require.NotNil(t, mock.lastProgramOpts.Filters[1].Memcmp)
	assert.Equal(t, uint64(StakeAuthorityOffset), mock.lastProgramOpts.Filters[1].Memcmp.Offset)
	assert.Equal(t, owner.Bytes(), []byte(mock.lastProgramOpts.Filters[1].Memcmp.Bytes))
}

func TestScanProgramAccounts_Error(t *testing.T) {
	client := newTestClient(&mockRPCClient{err: errors.New("rpc down")})

	_, err := client.ScanProgramAccounts(context.Background(), StakeProgramID, StakeAuthorityFilter(solana.NewWallet().PublicKey()))
	assert.Error(t, err)
}

func TestGetAccount(t *testing.T) {
	ctx := context.Background()
	addr := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{
		accounts: map[solana.PublicKey]*rpc.GetAccountInfoResult{
			addr: {
				RPCContext: rpc.RPCContext{Context: rpc.Context{Slot: 42}},
				Value: &rpc.Account{
					Lamports: 10,
					Owner:    StakeProgramID,
					Data:     rpc.DataBytesOrJSONFromBytes([]byte{1, 2, 3}),
				},
			},
		},
	}
	client := newTestClient(mock)

	t.Run("found", func(t *testing.T) {
		acct, err := client.GetAccount(ctx, addr)
		require.NoError(t, err)
		require.NotNil(t, acct)
		assert.Equal(t, uint64(42), acct.Slot)
		assert.Equal(t, []byte{1, 2, 3}, acct.Data)
	})

	t.Run("not found is nil without error", func(t *testing.T) {
		acct, err := client.GetAccount(ctx, solana.NewWallet().PublicKey())
		require.NoError(t, err)
		assert.Nil(t, acct)
	})
}

func TestGetInflationReward_CachesFinalizedResults(t *testing.T) {
	ctx := context.Background()
	x := solana.NewWallet().PublicKey()
	y := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{
		rewards: map[uint64]map[solana.PublicKey]*rpc.GetInflationRewardResult{
			10: {x: {Epoch: 10, Amount: 1500, PostBalance: 1_000_001_500, EffectiveSlot: 4_320_001}},
		},
		epochInfo: &rpc.GetEpochInfoResult{Epoch: 500},
	}
	client := newTestClient(mock, WithRewardCacheSize(64))
	_, err := client.GetEpochInfo(ctx)
	require.NoError(t, err)

	out, err := client.GetInflationReward(ctx, []solana.PublicKey{x, y}, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0])
	assert.Equal(t, uint64(1500), out[0].Amount)
	assert.Nil(t, out[1], "address without a reward yields a nil entry")
	assert.Equal(t, 1, mock.rewardCalls)

	// Second call is served entirely from cache, including the empty entry.
	out, err = client.GetInflationReward(ctx, []solana.PublicKey{y, x}, 10)
	require.NoError(t, err)
	assert.Nil(t, out[0])
	require.NotNil(t, out[1])
	assert.Equal(t, uint64(1500), out[1].Amount)
	assert.Equal(t, 1, mock.rewardCalls)
}

func TestGetInflationReward_RecentEmptyResultsNotCached(t *testing.T) {
	ctx := context.Background()
	x := solana.NewWallet().PublicKey()

	mock := &mockRPCClient{
		rewards:   map[uint64]map[solana.PublicKey]*rpc.GetInflationRewardResult{},
		epochInfo: &rpc.GetEpochInfoResult{Epoch: 11},
	}
	client := newTestClient(mock, WithRewardCacheSize(64))
	_, err := client.GetEpochInfo(ctx)
	require.NoError(t, err)

	// Epoch 10 is the previous epoch, its payout may not have landed yet.
	out, err := client.GetInflationReward(ctx, []solana.PublicKey{x}, 10)
	require.NoError(t, err)
	assert.Nil(t, out[0])
	assert.Equal(t, 1, mock.rewardCalls)

	mock.rewards[10] = map[solana.PublicKey]*rpc.GetInflationRewardResult{
		x: {Epoch: 10, Amount: 700, PostBalance: 1_000_000_700, EffectiveSlot: 4_752_000},
	}
	out, err = client.GetInflationReward(ctx, []solana.PublicKey{x}, 10)
	require.NoError(t, err)
	require.NotNil(t, out[0])
	assert.Equal(t, uint64(700), out[0].Amount)
	assert.Equal(t, 2, mock.rewardCalls)

	// Once found the reward is final and served from cache.
	_, err = client.GetInflationReward(ctx, []solana.PublicKey{x}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.rewardCalls)

	// Without a known epoch an empty result is never cached.
	fresh := newTestClient(&mockRPCClient{rewards: map[uint64]map[solana.PublicKey]*rpc.GetInflationRewardResult{}}, WithRewardCacheSize(64))
	assert.False(t, fresh.rewardsSettled(3))
}

func TestGetEpochInfoAndSchedule(t *testing.T) {
	ctx := context.Background()
	mock := &mockRPCClient{
		epochInfo: &rpc.GetEpochInfoResult{Epoch: 500, SlotIndex: 1000, SlotsInEpoch: 432000, AbsoluteSlot: 216_001_000},
		schedule:  &rpc.GetEpochScheduleResult{SlotsPerEpoch: 432000, FirstNormalEpoch: 14, FirstNormalSlot: 524256, Warmup: true},
	}
	client := newTestClient(mock)

	info, err := client.GetEpochInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), info.Epoch)
	assert.Equal(t, uint64(1000), info.SlotIndex)

	schedule, err := client.GetEpochSchedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), schedule.FirstNormalEpoch)
	assert.True(t, schedule.Warmup)
}

func TestGetBlockTime(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock := &mockRPCClient{
		blockTimes: map[uint64]solana.UnixTimeSeconds{100: solana.UnixTimeSeconds(ts.Unix())},
	}
	cache, err := NewBlockTimeCache(16, nil, nil, logger)
	require.NoError(t, err)
	client := newTestClient(mock, WithBlockTimeCache(cache))

	got, ok, err := client.GetBlockTime(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ts, got)

	// Cached: no second RPC call.
	got, ok, err = client.GetBlockTime(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ts, got)
	assert.Equal(t, 1, mock.blockTimeCalls)

	// Skipped slot surfaces as an error and is never cached.
	_, ok, err = client.GetBlockTime(ctx, 101)
	assert.Error(t, err)
	assert.False(t, ok)
	_, _, _ = client.GetBlockTime(ctx, 101)
	assert.Equal(t, 3, mock.blockTimeCalls)
}

func TestGetBalance(t *testing.T) {
	client := newTestClient(&mockRPCClient{balance: 7_000_000_000})

	bal, err := client.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(7_000_000_000), bal)
}

type memoryBlockTimeStore struct {
	times map[uint64]time.Time
	sets  int
}

func (s *memoryBlockTimeStore) GetBlockTime(ctx context.Context, slot uint64) (time.Time, bool, error) {
	t, ok := s.times[slot]
	return t, ok, nil
}

func (s *memoryBlockTimeStore) SetBlockTime(ctx context.Context, slot uint64, t time.Time) error {
	s.sets++
	s.times[slot] = t
	return nil
}

func TestBlockTimeCache_SharedTier(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := time.Unix(1_700_000_000, 0).UTC()

	remote := &memoryBlockTimeStore{times: map[uint64]time.Time{7: ts}}
	cache, err := NewBlockTimeCache(16, remote, nil, logger)
	require.NoError(t, err)

	got, ok := cache.Get(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, ts, got)

	_, ok = cache.Get(ctx, 8)
	assert.False(t, ok)

	cache.Add(ctx, 8, ts.Add(time.Second))
	assert.Equal(t, 1, remote.sets)
	got, ok = cache.Get(ctx, 8)
	require.True(t, ok)
	assert.Equal(t, ts.Add(time.Second), got)

	var nilCache *BlockTimeCache
	_, ok = nilCache.Get(ctx, 7)
	assert.False(t, ok)
}

func TestDial(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, _, err := Dial(DialConfig{}, nil, logger)
	assert.Error(t, err)

	cache, err := NewBlockTimeCache(8, nil, nil, logger)
	require.NoError(t, err)
	c, endpoint, err := Dial(DialConfig{
		Endpoints:       []string{"https://api.mainnet-beta.solana.com/?api-key=secret"},
		Commitment:      rpc.CommitmentFinalized,
		RateLimit:       5,
		BlockTimes:      cache,
		RewardCacheSize: 16,
	}, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, "https://api.mainnet-beta.solana.com/?api-key=secret", endpoint)
	assert.Equal(t, "api.mainnet-beta.solana.com", c.endpoint)
	assert.Equal(t, rpc.CommitmentFinalized, c.commitment)
	assert.Same(t, cache, c.blockTimes)
	assert.NotNil(t, c.rewards)
}

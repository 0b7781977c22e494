package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	natspkg "github.com/brojonat/solstake/service/nats"
	"github.com/brojonat/solstake/service/solana"
	"github.com/brojonat/solstake/service/stake"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activityFixture struct {
	owner     solanago.PublicKey
	ledger    *fakeLedger
	publisher *natspkg.MockPublisher
	acts      *Activities
}

func newActivityFixture(t *testing.T) *activityFixture {
	t.Helper()
	f := &activityFixture{
		owner:     solanago.NewWallet().PublicKey(),
		ledger:    newFakeLedger(),
		publisher: natspkg.NewMockPublisher(),
	}
	f.acts = NewActivities(f.ledger, f.publisher, 4, noSleep(), nil, testLogger())
	return f
}

func (f *activityFixture) addAccount(t *testing.T, seed string, lamports, activation uint64) solanago.PublicKey {
	t.Helper()
	addr, err := stake.DeriveAddress(f.owner, seed, solana.StakeProgramID)
	require.NoError(t, err)
	f.ledger.accounts = append(f.ledger.accounts, &solana.Account{
		Address:  addr,
		Lamports: lamports,
		Owner:    solana.StakeProgramID,
		Data:     delegatedData(f.owner, activation),
	})
	return addr
}

func TestActivities_BuildEpochSnapshot(t *testing.T) {
	f := newActivityFixture(t)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.ledger.blockTimes[3_116_256] = start

	result, err := f.acts.BuildEpochSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), result.Snapshot.Epoch)
	assert.Equal(t, uint64(3_116_256), result.Snapshot.FirstSlot)
	require.NotNil(t, result.Snapshot.StartTime)
	assert.True(t, start.Equal(*result.Snapshot.StartTime))
	assert.Equal(t, uint64(432000), result.Schedule.SlotsPerEpoch)

	f.ledger.epochErr = errors.New("rpc down")
	_, err = f.acts.BuildEpochSnapshot(context.Background())
	assert.Error(t, err)
}

func TestActivities_ScanStakeAccounts(t *testing.T) {
	f := newActivityFixture(t)
	f.addAccount(t, "1", 2*stake.LamportsPerSOL, 15)
	f.addAccount(t, "0", stake.LamportsPerSOL, 15)
	f.ledger.balance = 5

	result, err := f.acts.ScanStakeAccounts(context.Background(), ScanStakeAccountsInput{Wallet: f.owner.String()})
	require.NoError(t, err)
	require.Len(t, result.Accounts, 2)
	assert.Equal(t, "0", result.Accounts[0].Seed)
	assert.Equal(t, "1", result.Accounts[1].Seed)
	assert.Equal(t, stake.KindDelegated, result.Accounts[0].State)
	assert.Equal(t, uint64(5), result.WalletBalance)
}

func TestActivities_ScanStakeAccounts_Errors(t *testing.T) {
	f := newActivityFixture(t)

	_, err := f.acts.ScanStakeAccounts(context.Background(), ScanStakeAccountsInput{Wallet: "not-a-key"})
	assert.ErrorContains(t, err, "invalid wallet address")

	f.ledger.scanErr = errors.New("rpc down")
	_, err = f.acts.ScanStakeAccounts(context.Background(), ScanStakeAccountsInput{Wallet: f.owner.String()})
	assert.ErrorContains(t, err, "rpc down")
}

func TestActivities_FetchRewards(t *testing.T) {
	f := newActivityFixture(t)
	addr := f.addAccount(t, "0", stake.LamportsPerSOL, 16)
	f.ledger.setReward(19, addr, 30)
	f.ledger.setReward(17, addr, 10)

	scan, err := f.acts.ScanStakeAccounts(context.Background(), ScanStakeAccountsInput{Wallet: f.owner.String()})
	require.NoError(t, err)

	result, err := f.acts.FetchRewards(context.Background(), FetchRewardsInput{
		Accounts:     scan.Accounts,
		CurrentEpoch: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Epochs)
	require.Len(t, result.Accounts, 1)
	assert.Equal(t, uint64(40), result.Accounts[0].TotalRewards)
	require.Len(t, result.Accounts[0].Rewards, 2)
	assert.Equal(t, uint64(19), result.Accounts[0].Rewards[0].Epoch)
	assert.Equal(t, uint64(17), result.Accounts[0].Rewards[1].Epoch)

	// The input is left untouched.
	assert.Empty(t, scan.Accounts[0].Rewards)
}

func TestActivities_FetchRewards_NoDelegations(t *testing.T) {
	f := newActivityFixture(t)
	accounts := []stake.RecordView{{Address: solanago.NewWallet().PublicKey().String(), State: stake.KindInitialized}}

	result, err := f.acts.FetchRewards(context.Background(), FetchRewardsInput{Accounts: accounts, CurrentEpoch: 20})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Epochs)
	assert.Equal(t, accounts, result.Accounts)
}

func TestActivities_ComputeYields(t *testing.T) {
	f := newActivityFixture(t)
	epochStart := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	// Stake activated in epoch 15 is effective from the first slot of epoch 16.
	f.ledger.blockTimes[1_388_256] = epochStart.Add(-stake.SecondsPerYear * time.Second)

	a, b, c := solanago.NewWallet().PublicKey(), solanago.NewWallet().PublicKey(), solanago.NewWallet().PublicKey()
	accounts := []stake.RecordView{
		{
			Address:      a.String(),
			Seed:         "0",
			Lamports:     1_070_000_000,
			State:        stake.KindDelegated,
			TotalRewards: 70_000_000,
			Rewards:      []stake.RewardView{{Epoch: 19, Amount: 40_000_000}, {Epoch: 17, Amount: 30_000_000}},
			Delegation:   &stake.DelegationView{ActivationEpoch: 15},
		},
		{Address: b.String(), Seed: "1", Lamports: 1_000_000_000, State: stake.KindDelegated, Delegation: &stake.DelegationView{ActivationEpoch: 18}},
		{Address: c.String(), Seed: "2", Lamports: 1_000_000_000, State: stake.KindInitialized},
	}
	epoch := EpochResult{
		Snapshot: stake.EpochView{Epoch: 20, StartTime: &epochStart},
		Schedule: f.ledger.schedule,
	}

	result, err := f.acts.ComputeYields(context.Background(), ComputeYieldsInput{Accounts: accounts, Epoch: epoch})
	require.NoError(t, err)
	require.Len(t, result.Yields, 3)
	require.NotNil(t, result.Yields[0].APY)
	assert.InDelta(t, 0.07, *result.Yields[0].APY, 1e-9)
	assert.Equal(t, uint64(70_000_000), result.Yields[0].TotalRewards)
	assert.Equal(t, a.String(), result.Yields[0].Address)
	assert.Nil(t, result.Yields[1].APY, "activation time never resolves")
	assert.Nil(t, result.Yields[2].APY, "not delegated")

	// Without an epoch start nothing can be annualized.
	epoch.Snapshot.StartTime = nil
	result, err = f.acts.ComputeYields(context.Background(), ComputeYieldsInput{Accounts: accounts, Epoch: epoch})
	require.NoError(t, err)
	assert.Nil(t, result.Yields[0].APY)

	_, err = f.acts.ComputeYields(context.Background(), ComputeYieldsInput{
		Accounts: []stake.RecordView{{Address: "not-a-key", State: stake.KindInitialized}},
		Epoch:    epoch,
	})
	assert.ErrorContains(t, err, "invalid stake account address")
}

func TestActivities_PublishReport(t *testing.T) {
	f := newActivityFixture(t)
	apy := 0.07
	input := PublishReportInput{
		Wallet:        f.owner.String(),
		Epoch:         stake.EpochView{Epoch: 20},
		Accounts:      []stake.RecordView{{Address: "a", Lamports: 3 * stake.LamportsPerSOL}},
		Yields:        []stake.YieldView{{Address: "a", APY: &apy}},
		WalletBalance: stake.LamportsPerSOL,
		StartedAt:     time.Now(),
	}

	require.NoError(t, f.acts.PublishReport(context.Background(), input))

	reports := f.publisher.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, f.owner.String(), reports[0].Wallet)
	require.NotNil(t, reports[0].Epoch)
	assert.Equal(t, uint64(20), reports[0].Epoch.Epoch)
	assert.Equal(t, 75, reports[0].Summary.StakedPercent)
	assert.Equal(t, "3", reports[0].Summary.TotalStakedSOL)
	assert.Len(t, reports[0].Yields, 1)

	f.publisher.SetPublishError(errors.New("nats down"))
	assert.ErrorContains(t, f.acts.PublishReport(context.Background(), input), "nats down")
}

func TestActivities_PublishReport_NoPublisher(t *testing.T) {
	acts := NewActivities(newFakeLedger(), nil, 4, noSleep(), nil, testLogger())
	assert.NoError(t, acts.PublishReport(context.Background(), PublishReportInput{Wallet: "w"}))
}

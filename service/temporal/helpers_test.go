package temporal

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/brojonat/solstake/service/solana"
	"github.com/brojonat/solstake/service/stake"
	solanago "github.com/gagliardetto/solana-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testVoter = solanago.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")

// delegatedData builds a delegated stake account payload owned by owner.
func delegatedData(owner solanago.PublicKey, activation uint64) []byte {
	buf := make([]byte, solana.StakeAccountSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], 2)
	le.PutUint64(buf[4:12], 2_282_880)
	copy(buf[12:44], owner[:])
	copy(buf[44:76], owner[:])
	copy(buf[124:156], testVoter[:])
	le.PutUint64(buf[156:164], 1_000_000_000)
	le.PutUint64(buf[164:172], activation)
	le.PutUint64(buf[172:180], math.MaxUint64)
	le.PutUint64(buf[180:188], math.Float64bits(0.25))
	return buf
}

// fakeLedger implements stake.Ledger in memory.
type fakeLedger struct {
	mu sync.Mutex

	accounts   []*solana.Account
	rewards    map[uint64]map[solanago.PublicKey]uint64
	blockTimes map[uint64]time.Time
	epoch      solana.EpochInfo
	schedule   solana.EpochSchedule
	balance    uint64

	scanErr  error
	epochErr error
}

var _ stake.Ledger = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rewards:    make(map[uint64]map[solanago.PublicKey]uint64),
		blockTimes: make(map[uint64]time.Time),
		epoch:      solana.EpochInfo{Epoch: 20, SlotIndex: 1000, SlotsInEpoch: 432000},
		schedule: solana.EpochSchedule{
			SlotsPerEpoch:    432000,
			FirstNormalEpoch: 14,
			FirstNormalSlot:  524256,
		},
	}
}

func (f *fakeLedger) setReward(epoch uint64, addr solanago.PublicKey, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rewards[epoch] == nil {
		f.rewards[epoch] = make(map[solanago.PublicKey]uint64)
	}
	f.rewards[epoch][addr] = amount
}

func (f *fakeLedger) ScanProgramAccounts(ctx context.Context, programID solanago.PublicKey, filter solana.ProgramFilter) ([]*solana.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.accounts, nil
}

func (f *fakeLedger) GetAccount(ctx context.Context, address solanago.PublicKey) (*solana.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acct := range f.accounts {
		if acct.Address == address {
			return acct, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) GetInflationReward(ctx context.Context, addresses []solanago.PublicKey, epoch uint64) ([]*solana.InflationReward, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*solana.InflationReward, len(addresses))
	for i, addr := range addresses {
		if amount, ok := f.rewards[epoch][addr]; ok {
			out[i] = &solana.InflationReward{Epoch: epoch, Amount: amount}
		}
	}
	return out, nil
}

func (f *fakeLedger) GetEpochInfo(ctx context.Context) (*solana.EpochInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epochErr != nil {
		return nil, f.epochErr
	}
	info := f.epoch
	return &info, nil
}

func (f *fakeLedger) GetEpochSchedule(ctx context.Context) (*solana.EpochSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.schedule
	return &s, nil
}

func (f *fakeLedger) GetBlockTime(ctx context.Context, slot uint64) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.blockTimes[slot]
	if !ok {
		return time.Time{}, false, errors.New("slot skipped")
	}
	return t, true, nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, address solanago.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

// noSleep is a block time backoff that gives up after two slots without waiting.
func noSleep() stake.Backoff {
	return stake.Backoff{
		MaxAttempts: 2,
		Delay:       stake.FixedDelay(0),
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

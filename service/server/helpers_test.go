package server

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

func delegatedData(owner solanago.PublicKey, activation uint64) []byte {
	voter := solanago.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
	buf := make([]byte, solana.StakeAccountSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], 2)
	copy(buf[12:44], owner[:])
	copy(buf[44:76], owner[:])
	copy(buf[124:156], voter[:])
	le.PutUint64(buf[156:164], 1_000_000_000)
	le.PutUint64(buf[164:172], activation)
	le.PutUint64(buf[172:180], math.MaxUint64)
	return buf
}

// fakeLedger implements stake.Ledger in memory.
type fakeLedger struct {
	mu         sync.Mutex
	accounts   map[solanago.PublicKey]*solana.Account
	blockTimes map[uint64]time.Time
	epoch      solana.EpochInfo
	balance    uint64
	scanErr    error
	epochErr   error
}

var _ stake.Ledger = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:   make(map[solanago.PublicKey]*solana.Account),
		blockTimes: map[uint64]time.Time{3_116_256: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		epoch:      solana.EpochInfo{Epoch: 20, SlotIndex: 216000, SlotsInEpoch: 432000},
	}
}

func (f *fakeLedger) put(addr solanago.PublicKey, lamports uint64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = &solana.Account{Address: addr, Lamports: lamports, Owner: solana.StakeProgramID, Data: data}
}

func (f *fakeLedger) setEpochErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epochErr = err
}

func (f *fakeLedger) ScanProgramAccounts(ctx context.Context, programID solanago.PublicKey, filter solana.ProgramFilter) ([]*solana.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	var out []*solana.Account
	for _, acct := range f.accounts {
		if len(acct.Data) >= 44 && solanago.PublicKeyFromBytes(acct.Data[12:44]) == filter.Authority {
			cp := *acct
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetAccount(ctx context.Context, address solanago.PublicKey) (*solana.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[address]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeLedger) GetInflationReward(ctx context.Context, addresses []solanago.PublicKey, epoch uint64) ([]*solana.InflationReward, error) {
	return make([]*solana.InflationReward, len(addresses)), nil
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
	return &solana.EpochSchedule{SlotsPerEpoch: 432000, FirstNormalEpoch: 14, FirstNormalSlot: 524256}, nil
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

func quickBackoff() stake.Backoff {
	return stake.Backoff{
		MaxAttempts: 2,
		Delay:       stake.FixedDelay(0),
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

// fakeStream hands out a prepared channel per subscription.
type fakeStream struct {
	events []StreamEvent
	err    error
}

func (s *fakeStream) Subscribe(ctx context.Context, wallet string) (<-chan StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan StreamEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

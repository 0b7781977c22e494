package stake

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKey() solanago.PublicKey {
	return solanago.NewWallet().PublicKey()
}

// stakeData builds a 200 byte stake account payload.
type stakeData struct {
	tag        uint32
	staker     solanago.PublicKey
	withdrawer solanago.PublicKey
	voter      solanago.PublicKey
	stake      uint64
	activation uint64
	deactivate uint64
	credits    uint64
}

func (d stakeData) bytes() []byte {
	buf := make([]byte, solana.StakeAccountSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], d.tag)
	le.PutUint64(buf[4:12], 2_282_880)
	copy(buf[12:44], d.staker[:])
	copy(buf[44:76], d.withdrawer[:])
	if d.tag == stateTagStake {
		copy(buf[124:156], d.voter[:])
		le.PutUint64(buf[156:164], d.stake)
		le.PutUint64(buf[164:172], d.activation)
		deactivation := d.deactivate
		if deactivation == 0 {
			deactivation = math.MaxUint64
		}
		le.PutUint64(buf[172:180], deactivation)
		le.PutUint64(buf[180:188], math.Float64bits(0.25))
		le.PutUint64(buf[188:196], d.credits)
	}
	return buf
}

func delegatedData(owner solanago.PublicKey, activation uint64) []byte {
	return stakeData{
		tag:        stateTagStake,
		staker:     owner,
		withdrawer: owner,
		voter:      solanago.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111"),
		stake:      1_000_000_000,
		activation: activation,
	}.bytes()
}

func initializedData(owner solanago.PublicKey) []byte {
	return stakeData{tag: stateTagInitialized, staker: owner, withdrawer: owner}.bytes()
}

// fakeLedger implements Ledger in memory.
type fakeLedger struct {
	mu sync.Mutex

	accounts map[solanago.PublicKey]*solana.Account
	scanErr  error

	rewards      map[uint64]map[solanago.PublicKey]*solana.InflationReward
	rewardErrs   map[uint64]error
	rewardEpochs []uint64
	inFlight     int
	maxInFlight  int
	rewardDelay  time.Duration

	epoch     solana.EpochInfo
	schedule  solana.EpochSchedule
	epochErr  error
	epochHits int

	blockTimes     map[uint64]time.Time
	blockTimeCalls []uint64

	balance uint64

	// hiddenLookups makes GetAccount report not found this many times first.
	hiddenLookups  int
	accountLookups int
	accountErr     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:   make(map[solanago.PublicKey]*solana.Account),
		rewards:    make(map[uint64]map[solanago.PublicKey]*solana.InflationReward),
		rewardErrs: make(map[uint64]error),
		blockTimes: make(map[uint64]time.Time),
		schedule: solana.EpochSchedule{
			SlotsPerEpoch:    432000,
			FirstNormalEpoch: 14,
			FirstNormalSlot:  524256,
		},
	}
}

func (f *fakeLedger) put(addr solanago.PublicKey, lamports uint64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = &solana.Account{
		Address:  addr,
		Lamports: lamports,
		Owner:    solana.StakeProgramID,
		Data:     data,
	}
}

func (f *fakeLedger) remove(addr solanago.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, addr)
}

func (f *fakeLedger) setReward(epoch uint64, addr solanago.PublicKey, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rewards[epoch] == nil {
		f.rewards[epoch] = make(map[solanago.PublicKey]*solana.InflationReward)
	}
	f.rewards[epoch][addr] = &solana.InflationReward{Epoch: epoch, Amount: amount, PostBalance: amount}
}

func (f *fakeLedger) ScanProgramAccounts(ctx context.Context, programID solanago.PublicKey, filter solana.ProgramFilter) ([]*solana.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	var out []*solana.Account
	for _, acct := range f.accounts {
		if uint64(len(acct.Data)) != filter.DataSize {
			continue
		}
		off := filter.AuthorityOffset
		if !bytes.Equal(acct.Data[off:off+32], filter.Authority[:]) {
			continue
		}
		cp := *acct
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeLedger) GetAccount(ctx context.Context, address solanago.PublicKey) (*solana.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountLookups++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.hiddenLookups > 0 {
		f.hiddenLookups--
		return nil, nil
	}
	acct, ok := f.accounts[address]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeLedger) GetInflationReward(ctx context.Context, addresses []solanago.PublicKey, epoch uint64) ([]*solana.InflationReward, error) {
	f.mu.Lock()
	f.rewardEpochs = append(f.rewardEpochs, epoch)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.rewardDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err := f.rewardErrs[epoch]; err != nil {
		return nil, err
	}
	out := make([]*solana.InflationReward, len(addresses))
	for i, addr := range addresses {
		out[i] = f.rewards[epoch][addr]
	}
	return out, nil
}

func (f *fakeLedger) GetEpochInfo(ctx context.Context) (*solana.EpochInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epochHits++
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
	f.blockTimeCalls = append(f.blockTimeCalls, slot)
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

// noSleep is a Backoff that never waits.
func noSleep() Backoff {
	return Backoff{
		MaxAttempts: 10,
		Delay:       FixedDelay(250 * time.Millisecond),
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

// fakeFeed hands out channels the test can push notifications into.
type fakeFeed struct {
	mu       sync.Mutex
	program  chan solana.AccountNotification
	accounts map[solanago.PublicKey]chan solana.AccountNotification
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		program:  make(chan solana.AccountNotification, 16),
		accounts: make(map[solanago.PublicKey]chan solana.AccountNotification),
	}
}

func (f *fakeFeed) SubscribeProgram(ctx context.Context, programID solanago.PublicKey, filter solana.ProgramFilter) (<-chan solana.AccountNotification, error) {
	return f.program, nil
}

func (f *fakeFeed) SubscribeAccount(ctx context.Context, address solanago.PublicKey) (<-chan solana.AccountNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.accounts[address]
	if !ok {
		ch = make(chan solana.AccountNotification, 4)
		f.accounts[address] = ch
	}
	return ch, nil
}

func (f *fakeFeed) subscribed(address solanago.PublicKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[address]
	return ok
}

func (f *fakeFeed) push(address solanago.PublicKey, n solana.AccountNotification) {
	f.mu.Lock()
	ch := f.accounts[address]
	f.mu.Unlock()
	ch <- n
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	snapshots [][]*Record
	progress  []RewardsProgress
}

func (n *recordingNotifier) AccountsChanged(ctx context.Context, owner solanago.PublicKey, records []*Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, records)
	return nil
}

func (n *recordingNotifier) RewardsProgressed(ctx context.Context, owner solanago.PublicKey, p RewardsProgress) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, p)
	return nil
}

func (n *recordingNotifier) snapshotCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.snapshots)
}

func seeds(records []*Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Seed
	}
	return out
}

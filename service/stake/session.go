package stake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/ssgreg/repeat"
)

const (
	// DefaultConfirmAttempts is how many times a freshly created account is
	// looked up before giving up.
	DefaultConfirmAttempts = 5

	// DefaultConfirmDelay separates those lookups.
	DefaultConfirmDelay = 600 * time.Millisecond

	eventBuffer = 256
)

// Ledger is every read a session performs.
type Ledger interface {
	AccountSource
	RewardSource
	BlockTimeSource
	EpochSource
	GetAccount(ctx context.Context, address solanago.PublicKey) (*solana.Account, error)
	GetBalance(ctx context.Context, address solanago.PublicKey) (uint64, error)
}

// ChangeFeed streams ledger changes for a program or a single account.
type ChangeFeed interface {
	SubscribeProgram(ctx context.Context, programID solanago.PublicKey, filter solana.ProgramFilter) (<-chan solana.AccountNotification, error)
	SubscribeAccount(ctx context.Context, address solanago.PublicKey) (<-chan solana.AccountNotification, error)
}

// Notifier is told about collection changes and reward progress.
type Notifier interface {
	AccountsChanged(ctx context.Context, owner solanago.PublicKey, records []*Record) error
	RewardsProgressed(ctx context.Context, owner solanago.PublicKey, progress RewardsProgress) error
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Owner     solanago.PublicKey
	ProgramID solanago.PublicKey // defaults to the stake program
	Ledger    Ledger
	Feed      ChangeFeed // optional; without it the collection only changes on rescans
	Notifier  Notifier   // optional

	RewardBatchSize  int
	BlockTimeBackoff Backoff
	ConfirmAttempts  int
	ConfirmDelay     time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session keeps one wallet's stake accounts live: it bootstraps the
// collection with a scan, follows change notifications, and serves reward,
// yield and epoch queries against it.
type Session struct {
	owner     solanago.PublicKey
	programID solanago.PublicKey
	ledger    Ledger
	feed      ChangeFeed
	notifier  Notifier

	scanner    *Scanner
	reconciler *Reconciler
	fetcher    *RewardsFetcher
	estimator  *EpochEstimator

	confirmAttempts int
	confirmDelay    time.Duration

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	feeds   map[solanago.PublicKey]context.CancelFunc
	started bool
	running bool
	closed  bool

	epochs *EpochTracker

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSession validates cfg and assembles a session. Call Start to bootstrap it.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Owner.IsZero() {
		return nil, errors.New("session owner is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("session ledger is required")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = solana.StakeProgramID
	}
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = DefaultConfirmAttempts
	}
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = DefaultConfirmDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("wallet", cfg.Owner.String())

	probes, err := NewProbeSet(cfg.Owner, cfg.ProgramID)
	if err != nil {
		return nil, err
	}

	resolver := NewBlockTimeResolver(cfg.Ledger, cfg.BlockTimeBackoff, cfg.Metrics, logger)
	s := &Session{
		owner:           cfg.Owner,
		programID:       cfg.ProgramID,
		ledger:          cfg.Ledger,
		feed:            cfg.Feed,
		notifier:        cfg.Notifier,
		scanner:         NewScanner(cfg.Ledger, cfg.ProgramID, cfg.Metrics, logger),
		reconciler:      NewReconciler(cfg.Owner, probes, cfg.Metrics, logger),
		fetcher:         NewRewardsFetcher(cfg.Ledger, cfg.RewardBatchSize, cfg.Metrics, logger),
		estimator:       NewEpochEstimator(cfg.Ledger, resolver, logger),
		confirmAttempts: cfg.ConfirmAttempts,
		confirmDelay:    cfg.ConfirmDelay,
		events:          make(chan Event, eventBuffer),
		feeds:           make(map[solanago.PublicKey]context.CancelFunc),
		metrics:         cfg.Metrics,
		logger:          logger,
	}
	s.epochs = NewEpochTracker(s.estimator)
	s.reconciler.OnChange(s.onChange)
	return s, nil
}

// Owner returns the wallet this session tracks.
func (s *Session) Owner() solanago.PublicKey {
	return s.owner
}

// Start subscribes to program changes, scans the wallet's accounts and starts
// applying changes. ctx bounds the session's lifetime; Close ends it early.
// Changes that arrive during the scan are applied after it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	if s.feed != nil {
		ch, err := s.feed.SubscribeProgram(runCtx, s.programID, solana.StakeAuthorityFilter(s.owner))
		if err != nil {
			// Rescans still work; live updates fall back to per-account feeds.
			s.logger.WarnContext(runCtx, "program subscription unavailable", "error", err)
		} else {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.forward(runCtx, ch)
			}()
		}
	}

	records, err := s.scanner.Scan(runCtx, s.owner)
	if err != nil {
		s.Close()
		return err
	}
	s.reconciler.Replace(records)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.reconciler.Run(runCtx, s.events); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(runCtx, "reconciler stopped", "error", err)
		}
	}()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordSessionChange(1)
	}
	s.logger.InfoContext(runCtx, "session started", "accounts", len(records))
	return nil
}

// Close stops all subscriptions and waits for background work to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasRunning := s.running
	cancel := s.cancel
	for addr, stop := range s.feeds {
		stop()
		delete(s.feeds, addr)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if s.metrics != nil {
		s.metrics.DeleteTrackedAccounts(s.owner.String())
		if wasRunning {
			s.metrics.RecordSessionChange(-1)
		}
	}
	s.logger.Info("session closed")
}

// Accounts returns the tracked records sorted by seed label.
func (s *Session) Accounts() []*Record {
	return s.reconciler.Snapshot()
}

// Rescan repeats discovery and replaces the collection with its result.
func (s *Session) Rescan(ctx context.Context) ([]*Record, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	records, err := s.scanner.Scan(ctx, s.owner)
	if err != nil {
		return nil, err
	}
	s.reconciler.Replace(records)
	return s.reconciler.Snapshot(), nil
}

// AddTrackedAccount inserts an account the user just created under seed,
// without waiting for a change notification. The account is looked up a few
// times since a new account can take a moment to become visible.
func (s *Session) AddTrackedAccount(ctx context.Context, address solanago.PublicKey, seed string) (*Record, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	var acct *solana.Account
	err := repeat.Repeat(
		repeat.Fn(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, err := s.ledger.GetAccount(ctx, address)
			if err != nil {
				return repeat.HintTemporary(err)
			}
			if a == nil {
				return repeat.HintTemporary(ErrAccountNotFound)
			}
			acct = a
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(s.confirmAttempts),
		repeat.FnOnError(func(err error) error {
			s.logger.DebugContext(ctx, "waiting for new stake account",
				"address", address.String(),
				"error", err,
			)
			return err
		}),
		repeat.WithDelay(repeat.FixedBackoff(s.confirmDelay).Set()),
	)
	if acct == nil {
		s.recordAdd("not_found")
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %s not found after %d attempts (last error: %v)", ErrAccountNotFound, address, s.confirmAttempts, err)
	}

	state, err := DecodeState(acct.Data)
	if err != nil {
		s.recordAdd("undecodable")
		return nil, err
	}

	rec := &Record{
		Address:  address,
		Seed:     seed,
		Lamports: acct.Lamports,
		State:    state,
	}
	outcome := s.reconciler.Insert(rec, acct.Slot)
	s.recordAdd(string(outcome))

	s.logger.InfoContext(ctx, "added stake account",
		"address", address.String(),
		"seed", seed,
		"outcome", string(outcome),
	)

	out, _ := s.reconciler.Get(address)
	if out == nil {
		out = rec
	}
	return out, nil
}

// NextSeed returns the first decimal seed whose derived address is not tracked.
func (s *Session) NextSeed() (string, error) {
	return FirstUnusedSeed(s.owner, s.programID, s.reconciler.Snapshot())
}

// NextAccount returns the first unused seed along with the address it derives
// to under the session's program.
func (s *Session) NextAccount() (seed string, address solanago.PublicKey, err error) {
	seed, err = s.NextSeed()
	if err != nil {
		return "", solanago.PublicKey{}, err
	}
	address, err = DeriveAddress(s.owner, seed, s.programID)
	if err != nil {
		return "", solanago.PublicKey{}, err
	}
	return seed, address, nil
}

// Epoch returns the current epoch snapshot. The start time is only
// re-resolved once the epoch advances.
func (s *Session) Epoch(ctx context.Context) (*EpochSnapshot, error) {
	return s.epochs.Current(ctx)
}

// RefreshRewards fetches reward history for every tracked account from the
// earliest activation epoch up to the previous epoch, merging each batch into
// the collection as it completes.
func (s *Session) RefreshRewards(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	records := s.reconciler.Snapshot()
	minActivation, ok := MinActivationEpoch(records)
	if !ok {
		s.logger.DebugContext(ctx, "no delegated accounts, skipping reward history")
		return nil
	}
	snap, err := s.Epoch(ctx)
	if err != nil {
		return err
	}

	addresses := make([]solanago.PublicKey, len(records))
	for i, rec := range records {
		addresses[i] = rec.Address
	}

	_, err = s.fetcher.FetchRewards(ctx, addresses, minActivation, snap.Epoch, func(p RewardsProgress) {
		s.reconciler.MergeRewards(p.Batch)
		if s.notifier != nil {
			if err := s.notifier.RewardsProgressed(ctx, s.owner, p); err != nil {
				s.logger.WarnContext(ctx, "failed to publish rewards progress", "error", err)
			}
		}
	})
	return err
}

// Yields computes the annualized yield of every tracked account.
func (s *Session) Yields(ctx context.Context) ([]Yield, error) {
	snap, err := s.Epoch(ctx)
	if err != nil {
		return nil, err
	}
	return s.estimator.ComputeYields(ctx, s.reconciler.Snapshot(), snap), nil
}

// Summary aggregates staked and liquid balances.
func (s *Session) Summary(ctx context.Context) (Summary, error) {
	balance, err := s.ledger.GetBalance(ctx, s.owner)
	if err != nil {
		return Summary{}, fmt.Errorf("get wallet balance: %w", err)
	}
	return Summarize(s.reconciler.Snapshot(), balance), nil
}

// onChange runs after every mutation of the collection.
func (s *Session) onChange(records []*Record) {
	s.syncAccountFeeds(records)

	if s.notifier == nil {
		return
	}
	ctx := s.runContext()
	if err := s.notifier.AccountsChanged(ctx, s.owner, records); err != nil {
		s.logger.WarnContext(ctx, "failed to publish stake accounts", "error", err)
	}
}

// syncAccountFeeds keeps one account subscription per tracked record. Program
// notifications do not report closures, account subscriptions do.
func (s *Session) syncAccountFeeds(records []*Record) {
	if s.feed == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx == nil {
		return
	}

	want := make(map[solanago.PublicKey]struct{}, len(records))
	for _, rec := range records {
		want[rec.Address] = struct{}{}
		if _, ok := s.feeds[rec.Address]; ok {
			continue
		}
		feedCtx, stop := context.WithCancel(s.ctx)
		s.feeds[rec.Address] = stop
		s.wg.Add(1)
		go func(addr solanago.PublicKey) {
			defer s.wg.Done()
			ch, err := s.feed.SubscribeAccount(feedCtx, addr)
			if err != nil {
				s.logger.WarnContext(feedCtx, "account subscription failed",
					"address", addr.String(),
					"error", err,
				)
				return
			}
			s.forward(feedCtx, ch)
		}(rec.Address)
	}

	for addr, stop := range s.feeds {
		if _, ok := want[addr]; !ok {
			stop()
			delete(s.feeds, addr)
		}
	}
}

// forward turns notifications into reconciler events. Each notification is
// confirmed against the ledger before it is applied.
func (s *Session) forward(ctx context.Context, ch <-chan solana.AccountNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := s.confirm(ctx, n)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Session) confirm(ctx context.Context, n solana.AccountNotification) (Event, bool) {
	acct, err := s.ledger.GetAccount(ctx, n.Address)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping change notification, account lookup failed",
			"address", n.Address.String(),
			"error", err,
		)
		return Event{}, false
	}
	ev := Event{Address: n.Address, Slot: n.Slot, Account: acct}
	if acct != nil && acct.Slot > ev.Slot {
		ev.Slot = acct.Slot
	}
	return ev, true
}

func (s *Session) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) recordAdd(status string) {
	if s.metrics != nil {
		s.metrics.RecordAddTrackedAccount(status)
	}
}

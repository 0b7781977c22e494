package stake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/brojonat/solstake/service/solana"
)

const (
	// MinimumSlotsPerEpoch is the length of epoch 0 under warmup; each
	// warmup epoch doubles it.
	MinimumSlotsPerEpoch = 32

	// AverageSlotDuration is the nominal slot time used for countdowns.
	AverageSlotDuration = 550 * time.Millisecond
)

// FirstSlotInEpoch returns the absolute slot at which epoch begins.
func FirstSlotInEpoch(schedule solana.EpochSchedule, epoch uint64) uint64 {
	if epoch <= schedule.FirstNormalEpoch {
		return ((uint64(1) << epoch) - 1) * MinimumSlotsPerEpoch
	}
	return (epoch-schedule.FirstNormalEpoch)*schedule.SlotsPerEpoch + schedule.FirstNormalSlot
}

// Progress returns how far through the epoch the snapshot is, in [0, 1].
func (s *EpochSnapshot) Progress() float64 {
	if s.SlotsInEpoch == 0 {
		return 0
	}
	return float64(s.SlotIndex) / float64(s.SlotsInEpoch)
}

// TimeRemaining estimates the time until the epoch ends.
func (s *EpochSnapshot) TimeRemaining() time.Duration {
	if s.SlotIndex >= s.SlotsInEpoch {
		return 0
	}
	return time.Duration(s.SlotsInEpoch-s.SlotIndex) * AverageSlotDuration
}

// Backoff bounds a retry loop. Delay gives the pause after a failed attempt
// (0-based); Sleep performs it and returns early with ctx's error.
type Backoff struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultBlockTimeBackoff probes up to 10 slots, 250ms apart.
func DefaultBlockTimeBackoff() Backoff {
	return Backoff{
		MaxAttempts: 10,
		Delay:       FixedDelay(250 * time.Millisecond),
		Sleep:       SleepContext,
	}
}

// FixedDelay returns a Delay that always waits d.
func FixedDelay(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BlockTimeSource reports the production time of a slot.
type BlockTimeSource interface {
	GetBlockTime(ctx context.Context, slot uint64) (time.Time, bool, error)
}

// BlockTimeResolver finds a timestamp for a slot, walking forward over
// skipped slots.
type BlockTimeResolver struct {
	source  BlockTimeSource
	backoff Backoff
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBlockTimeResolver creates a resolver. Zero-valued backoff fields fall
// back to DefaultBlockTimeBackoff.
func NewBlockTimeResolver(source BlockTimeSource, backoff Backoff, m *metrics.Metrics, logger *slog.Logger) *BlockTimeResolver {
	def := DefaultBlockTimeBackoff()
	if backoff.MaxAttempts <= 0 {
		backoff.MaxAttempts = def.MaxAttempts
	}
	if backoff.Delay == nil {
		backoff.Delay = def.Delay
	}
	if backoff.Sleep == nil {
		backoff.Sleep = def.Sleep
	}
	return &BlockTimeResolver{
		source:  source,
		backoff: backoff,
		metrics: m,
		logger:  logger,
	}
}

// Resolve returns the time of slot, or of the first of the following slots
// that has one. Attempt i queries slot+i. ok is false once the attempts are
// exhausted or ctx is done; callers treat that as "start time unknown".
func (r *BlockTimeResolver) Resolve(ctx context.Context, slot uint64) (t time.Time, ok bool) {
	attempts := 0
	defer func() {
		if r.metrics != nil {
			status := "unresolved"
			if ok {
				status = "resolved"
			}
			r.metrics.RecordBlockTimeResolution(status, attempts)
		}
	}()

	for i := 0; i < r.backoff.MaxAttempts; i++ {
		attempts++
		probe := slot + uint64(i)

		bt, found, err := r.source.GetBlockTime(ctx, probe)
		if err == nil && found {
			return bt, true
		}
		r.logger.DebugContext(ctx, "no block time for slot",
			"slot", probe,
			"attempt", i+1,
			"error", err,
		)

		if i == r.backoff.MaxAttempts-1 {
			break
		}
		if err := r.backoff.Sleep(ctx, r.backoff.Delay(i)); err != nil {
			return time.Time{}, false
		}
	}

	r.logger.WarnContext(ctx, "block time unresolved",
		"slot", slot,
		"attempts", attempts,
	)
	return time.Time{}, false
}

// EpochSource reports the ledger's epoch position and layout.
type EpochSource interface {
	GetEpochInfo(ctx context.Context) (*solana.EpochInfo, error)
	GetEpochSchedule(ctx context.Context) (*solana.EpochSchedule, error)
}

// EpochEstimator builds epoch snapshots and activation times.
// The epoch schedule never changes for a cluster, so it is fetched once.
type EpochEstimator struct {
	source   EpochSource
	resolver *BlockTimeResolver
	logger   *slog.Logger

	mu       sync.Mutex
	schedule *solana.EpochSchedule
}

// NewEpochEstimator creates an estimator resolving times through resolver.
func NewEpochEstimator(source EpochSource, resolver *BlockTimeResolver, logger *slog.Logger) *EpochEstimator {
	return &EpochEstimator{
		source:   source,
		resolver: resolver,
		logger:   logger,
	}
}

// Schedule returns the cluster's epoch schedule.
func (e *EpochEstimator) Schedule(ctx context.Context) (solana.EpochSchedule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.schedule != nil {
		return *e.schedule, nil
	}
	schedule, err := e.source.GetEpochSchedule(ctx)
	if err != nil {
		return solana.EpochSchedule{}, fmt.Errorf("get epoch schedule: %w", err)
	}
	e.schedule = schedule
	return *schedule, nil
}

// Snapshot captures the current epoch. A start time that cannot be resolved
// leaves StartTime nil rather than failing.
func (e *EpochEstimator) Snapshot(ctx context.Context) (*EpochSnapshot, error) {
	info, err := e.source.GetEpochInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get epoch info: %w", err)
	}
	schedule, err := e.Schedule(ctx)
	if err != nil {
		return nil, err
	}

	snap := &EpochSnapshot{
		Epoch:        info.Epoch,
		SlotIndex:    info.SlotIndex,
		SlotsInEpoch: info.SlotsInEpoch,
		FirstSlot:    FirstSlotInEpoch(schedule, info.Epoch),
		Schedule:     schedule,
	}
	if t, ok := e.resolver.Resolve(ctx, snap.FirstSlot); ok {
		snap.StartTime = &t
	}

	e.logger.DebugContext(ctx, "built epoch snapshot",
		"epoch", snap.Epoch,
		"first_slot", snap.FirstSlot,
		"start_resolved", snap.StartTime != nil,
	)
	return snap, nil
}

// Refresh updates prev with the ledger's current position, rebuilding the
// snapshot only when the epoch has advanced or its start time is still unknown.
func (e *EpochEstimator) Refresh(ctx context.Context, prev *EpochSnapshot) (*EpochSnapshot, error) {
	if prev == nil || prev.StartTime == nil {
		return e.Snapshot(ctx)
	}
	info, err := e.source.GetEpochInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get epoch info: %w", err)
	}
	if info.Epoch != prev.Epoch {
		return e.Snapshot(ctx)
	}
	next := *prev
	next.SlotIndex = info.SlotIndex
	next.SlotsInEpoch = info.SlotsInEpoch
	return &next, nil
}

// ActivationTime resolves when stake activated in activationEpoch became
// effective: the start of the following epoch.
func (e *EpochEstimator) ActivationTime(ctx context.Context, schedule solana.EpochSchedule, activationEpoch uint64) (time.Time, bool) {
	return e.resolver.Resolve(ctx, FirstSlotInEpoch(schedule, activationEpoch+1))
}

// EpochTracker caches the latest snapshot so repeated queries within an epoch
// only cost one epoch info lookup.
type EpochTracker struct {
	estimator *EpochEstimator

	mu   sync.Mutex
	last *EpochSnapshot
}

// NewEpochTracker creates a tracker backed by e.
func NewEpochTracker(e *EpochEstimator) *EpochTracker {
	return &EpochTracker{estimator: e}
}

// Current returns a copy of the refreshed snapshot.
func (t *EpochTracker) Current(ctx context.Context) (*EpochSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, err := t.estimator.Refresh(ctx, t.last)
	if err != nil {
		return nil, err
	}
	t.last = next
	out := *next
	return &out, nil
}

// Estimator returns the estimator behind the tracker.
func (t *EpochTracker) Estimator() *EpochEstimator {
	return t.estimator
}

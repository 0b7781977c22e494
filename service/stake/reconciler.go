package stake

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Event is a change reported for one stake account. A nil Account means the
// ledger no longer holds data at Address.
type Event struct {
	Address solanago.PublicKey
	Slot    uint64 // ledger slot the change was observed at, 0 if unknown
	Account *solana.Account
}

// Outcome describes what applying an event did to the tracked collection.
type Outcome string

const (
	OutcomeInserted    Outcome = "inserted"
	OutcomeUpdated     Outcome = "updated"
	OutcomeRemoved     Outcome = "removed"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeStale       Outcome = "stale"
	OutcomeUndecodable Outcome = "undecodable"
)

func (o Outcome) changed() bool {
	return o == OutcomeInserted || o == OutcomeUpdated || o == OutcomeRemoved
}

// Reconciler owns a wallet's tracked stake accounts. The collection holds at
// most one record per address and is always sorted by seed label.
//
// Events carrying a slot older than the last slot applied for the same
// address are dropped, removals included, so a delayed update can never
// resurrect an account that was closed after it.
type Reconciler struct {
	mu      sync.RWMutex
	owner   solanago.PublicKey
	probes  *ProbeSet
	records []*Record
	slots   map[solanago.PublicKey]uint64
	version uint64

	notifyMu  sync.Mutex
	notified  uint64
	listeners []func([]*Record)

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewReconciler creates an empty collection for owner. probes classifies
// accounts first seen through change events.
func NewReconciler(owner solanago.PublicKey, probes *ProbeSet, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		owner:   owner,
		probes:  probes,
		slots:   make(map[solanago.PublicKey]uint64),
		metrics: m,
		logger:  logger,
	}
}

// OnChange registers fn to receive a snapshot after every mutation.
// Snapshots are delivered in mutation order; fn must not call back into the
// Reconciler's mutating methods.
func (r *Reconciler) OnChange(fn func(snapshot []*Record)) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Run applies events from ch until ch is closed or ctx is done.
func (r *Reconciler) Run(ctx context.Context, ch <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.Apply(ev)
		}
	}
}

// Apply reconciles one event into the collection.
func (r *Reconciler) Apply(ev Event) Outcome {
	r.mu.Lock()
	outcome := r.apply(ev)
	snapshot, version := r.afterMutation(outcome)
	r.mu.Unlock()

	r.logger.Debug("applied stake account event",
		"wallet", r.owner.String(),
		"address", ev.Address.String(),
		"slot", ev.Slot,
		"outcome", string(outcome),
	)
	if r.metrics != nil {
		r.metrics.RecordReconcileEvent(string(outcome))
	}
	r.notify(snapshot, version)
	return outcome
}

func (r *Reconciler) apply(ev Event) Outcome {
	if r.isStale(ev.Address, ev.Slot) {
		return OutcomeStale
	}

	idx := r.indexOf(ev.Address)

	if ev.Account == nil {
		r.markSlot(ev.Address, ev.Slot)
		if idx < 0 {
			return OutcomeIgnored
		}
		r.records = slices.Delete(r.records, idx, idx+1)
		return OutcomeRemoved
	}

	state, err := DecodeState(ev.Account.Data)
	if err != nil {
		r.logger.Warn("ignoring undecodable stake account update",
			"address", ev.Address.String(),
			"error", err,
		)
		return OutcomeUndecodable
	}
	r.markSlot(ev.Address, ev.Slot)

	if idx >= 0 {
		updated := r.records[idx].Clone()
		updated.State = state
		updated.Lamports = ev.Account.Lamports
		r.records[idx] = updated
		return OutcomeUpdated
	}

	r.records = append(r.records, &Record{
		Address:  ev.Address,
		Seed:     r.probes.Classify(ev.Address),
		Lamports: ev.Account.Lamports,
		State:    state,
	})
	SortRecords(r.records)
	return OutcomeInserted
}

// Replace installs the result of a discovery scan. Reward history already
// gathered for an address is carried over.
func (r *Reconciler) Replace(records []*Record) {
	r.mu.Lock()
	previous := make(map[solanago.PublicKey][]Reward, len(r.records))
	for _, rec := range r.records {
		previous[rec.Address] = rec.Rewards
	}

	next := make([]*Record, 0, len(records))
	seen := make(map[solanago.PublicKey]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Address]; dup {
			continue
		}
		seen[rec.Address] = struct{}{}
		c := rec.Clone()
		if len(c.Rewards) == 0 {
			c.Rewards = previous[c.Address]
		}
		next = append(next, c)
	}
	SortRecords(next)
	r.records = next
	snapshot, version := r.afterMutation(OutcomeUpdated)
	r.mu.Unlock()

	r.notify(snapshot, version)
}

// Insert adds a record whose seed is already known, such as an account the
// user just created. If the address is already tracked its seed label is
// corrected and everything else is left alone.
func (r *Reconciler) Insert(rec *Record, slot uint64) Outcome {
	r.mu.Lock()
	outcome := OutcomeInserted
	switch idx := r.indexOf(rec.Address); {
	case r.isStale(rec.Address, slot):
		outcome = OutcomeStale
	case idx >= 0:
		if r.records[idx].Seed == rec.Seed {
			outcome = OutcomeIgnored
			break
		}
		updated := r.records[idx].Clone()
		updated.Seed = rec.Seed
		r.records[idx] = updated
		SortRecords(r.records)
		outcome = OutcomeUpdated
	default:
		r.markSlot(rec.Address, slot)
		r.records = append(r.records, rec.Clone())
		SortRecords(r.records)
	}
	snapshot, version := r.afterMutation(outcome)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordReconcileEvent(string(outcome))
	}
	r.notify(snapshot, version)
	return outcome
}

// MergeRewards folds per-address reward entries into the tracked records.
// An entry replaces any existing entry for the same epoch. Addresses that are
// no longer tracked are skipped. It reports whether anything changed.
func (r *Reconciler) MergeRewards(rewards map[solanago.PublicKey][]Reward) bool {
	if len(rewards) == 0 {
		return false
	}

	r.mu.Lock()
	changed := false
	for i, rec := range r.records {
		incoming, ok := rewards[rec.Address]
		if !ok || len(incoming) == 0 {
			continue
		}
		updated := rec.Clone()
		updated.Rewards = mergeRewardHistory(updated.Rewards, incoming)
		r.records[i] = updated
		changed = true
	}
	outcome := OutcomeIgnored
	if changed {
		outcome = OutcomeUpdated
	}
	snapshot, version := r.afterMutation(outcome)
	r.mu.Unlock()

	r.notify(snapshot, version)
	return changed
}

// Snapshot returns a deep copy of the tracked records in order.
func (r *Reconciler) Snapshot() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Get returns a copy of the record for address.
func (r *Reconciler) Get(address solanago.PublicKey) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexOf(address)
	if idx < 0 {
		return nil, false
	}
	return r.records[idx].Clone(), true
}

// Len returns the number of tracked records.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Reconciler) snapshotLocked() []*Record {
	out := make([]*Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

func (r *Reconciler) afterMutation(outcome Outcome) ([]*Record, uint64) {
	if !outcome.changed() {
		return nil, 0
	}
	r.version++
	if r.metrics != nil {
		r.metrics.SetTrackedAccounts(r.owner.String(), len(r.records))
	}
	return r.snapshotLocked(), r.version
}

func (r *Reconciler) notify(snapshot []*Record, version uint64) {
	if snapshot == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if version <= r.notified {
		return
	}
	r.notified = version
	for _, fn := range r.listeners {
		fn(snapshot)
	}
}

func (r *Reconciler) indexOf(address solanago.PublicKey) int {
	return slices.IndexFunc(r.records, func(rec *Record) bool {
		return rec.Address == address
	})
}

// isStale reports whether slot predates the last change applied for address.
// Slot 0 is unknown and always applies.
func (r *Reconciler) isStale(address solanago.PublicKey, slot uint64) bool {
	if slot == 0 {
		return false
	}
	last, ok := r.slots[address]
	return ok && slot < last
}

func (r *Reconciler) markSlot(address solanago.PublicKey, slot uint64) {
	if slot > r.slots[address] {
		r.slots[address] = slot
	}
}

// mergeRewardHistory returns existing with incoming folded in, one entry per
// epoch, newest first.
func mergeRewardHistory(existing, incoming []Reward) []Reward {
	byEpoch := make(map[uint64]Reward, len(existing)+len(incoming))
	for _, rw := range existing {
		byEpoch[rw.Epoch] = rw
	}
	for _, rw := range incoming {
		byEpoch[rw.Epoch] = rw
	}
	out := make([]Reward, 0, len(byEpoch))
	for _, rw := range byEpoch {
		out = append(out, rw)
	}
	slices.SortFunc(out, func(a, b Reward) int {
		switch {
		case a.Epoch > b.Epoch:
			return -1
		case a.Epoch < b.Epoch:
			return 1
		default:
			return 0
		}
	})
	return out
}

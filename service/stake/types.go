// Package stake discovers, tracks and values the stake accounts controlled by
// a wallet. Every mutation of a wallet's tracked collection goes through a
// Reconciler; the other components only read from the ledger and hand their
// results to it.
package stake

import (
	"errors"
	"math"
	"time"

	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	// ErrParseAccount is returned when account data is not a valid stake account.
	ErrParseAccount = errors.New("stake: account data is not a valid stake account")

	// ErrUnknownWallet is returned when no session tracks the wallet.
	ErrUnknownWallet = errors.New("stake: no session for wallet")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("stake: session closed")

	// ErrAccountNotFound is returned when an account never becomes visible on the ledger.
	ErrAccountNotFound = errors.New("stake: account not found")
)

// NotDeactivating is the deactivation epoch of a delegation that has not been deactivated.
const NotDeactivating = math.MaxUint64

// Record is one tracked stake account.
type Record struct {
	Address  solanago.PublicKey
	Seed     string // derivation seed, or a truncated-address label when unknown
	Lamports uint64
	State    State
	Rewards  []Reward // one entry per epoch, newest first
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Rewards != nil {
		out.Rewards = make([]Reward, len(r.Rewards))
		copy(out.Rewards, r.Rewards)
	}
	return &out
}

// Delegation returns the record's delegation when it is delegated.
func (r *Record) Delegation() (Delegation, bool) {
	if d, ok := r.State.(Delegated); ok {
		return d.Delegation, true
	}
	return Delegation{}, false
}

// TotalRewards sums the record's reward history.
func (r *Record) TotalRewards() uint64 {
	var total uint64
	for _, rw := range r.Rewards {
		total += rw.Amount
	}
	return total
}

// Reward is the inflation reward credited to a stake account for one epoch.
type Reward struct {
	Epoch         uint64
	Amount        uint64
	PostBalance   uint64
	EffectiveSlot uint64
}

// StateKind names the variant of a stake account's on-ledger state.
type StateKind string

const (
	KindUninitialized StateKind = "uninitialized"
	KindInitialized   StateKind = "initialized"
	KindDelegated     StateKind = "delegated"
	KindRewardsPool   StateKind = "rewards_pool"
)

// State is the decoded state of a stake account. It is one of Uninitialized,
// Initialized, Delegated or RewardsPool.
type State interface {
	Kind() StateKind
	isState()
}

// Uninitialized is an allocated stake account that was never initialized.
type Uninitialized struct{}

// Initialized carries authorities but no delegation.
type Initialized struct {
	Meta Meta
}

// Delegated is an initialized account delegated to a vote account.
type Delegated struct {
	Meta            Meta
	Delegation      Delegation
	CreditsObserved uint64
}

// RewardsPool is a legacy state with no payload.
type RewardsPool struct{}

func (Uninitialized) Kind() StateKind { return KindUninitialized }
func (Initialized) Kind() StateKind   { return KindInitialized }
func (Delegated) Kind() StateKind     { return KindDelegated }
func (RewardsPool) Kind() StateKind   { return KindRewardsPool }

func (Uninitialized) isState() {}
func (Initialized) isState()   {}
func (Delegated) isState()     {}
func (RewardsPool) isState()   {}

// Meta holds the authorities and lockup of an initialized account.
type Meta struct {
	RentExemptReserve uint64
	Staker            solanago.PublicKey
	Withdrawer        solanago.PublicKey
	Lockup            Lockup
}

// Lockup restricts withdrawals until both the timestamp and epoch pass,
// unless signed by the custodian.
type Lockup struct {
	UnixTimestamp int64
	Epoch         uint64
	Custodian     solanago.PublicKey
}

// Delegation describes where and since when stake is delegated.
type Delegation struct {
	Voter              solanago.PublicKey
	Stake              uint64
	ActivationEpoch    uint64
	DeactivationEpoch  uint64
	WarmupCooldownRate float64
}

// Deactivating reports whether the delegation has been deactivated.
func (d Delegation) Deactivating() bool {
	return d.DeactivationEpoch != NotDeactivating
}

// EpochSnapshot captures the current epoch and when it started.
type EpochSnapshot struct {
	Epoch        uint64
	SlotIndex    uint64
	SlotsInEpoch uint64
	FirstSlot    uint64
	// StartTime is the production time of the epoch's first slot (or the
	// first of the following slots that has a time). Nil when unresolved.
	StartTime *time.Time
	Schedule  solana.EpochSchedule
}

// SeedProbe is one candidate derivation seed and the address it produces.
type SeedProbe struct {
	Seed    string
	Address solanago.PublicKey
}

package stake

import (
	"fmt"
	"time"

	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// RecordView is the JSON representation of a Record.
type RecordView struct {
	Address      string          `json:"address"`
	Seed         string          `json:"seed"`
	Lamports     uint64          `json:"lamports"`
	SOL          string          `json:"sol"`
	State        StateKind       `json:"state"`
	Staker       string          `json:"staker,omitempty"`
	Withdrawer   string          `json:"withdrawer,omitempty"`
	Delegation   *DelegationView `json:"delegation,omitempty"`
	TotalRewards uint64          `json:"total_rewards"`
	Rewards      []RewardView    `json:"rewards"`
}

// DelegationView is the JSON representation of a Delegation.
type DelegationView struct {
	Voter             string  `json:"voter"`
	Stake             uint64  `json:"stake"`
	ActivationEpoch   uint64  `json:"activation_epoch"`
	DeactivationEpoch *uint64 `json:"deactivation_epoch,omitempty"`
}

// RewardView is the JSON representation of a Reward.
type RewardView struct {
	Epoch         uint64 `json:"epoch"`
	Amount        uint64 `json:"amount"`
	PostBalance   uint64 `json:"post_balance"`
	EffectiveSlot uint64 `json:"effective_slot"`
}

// EpochView is the JSON representation of an EpochSnapshot.
type EpochView struct {
	Epoch            uint64     `json:"epoch"`
	SlotIndex        uint64     `json:"slot_index"`
	SlotsInEpoch     uint64     `json:"slots_in_epoch"`
	FirstSlot        uint64     `json:"first_slot"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	Progress         float64    `json:"progress"`
	TimeRemaining    string     `json:"time_remaining"`
	TimeRemainingSec float64    `json:"time_remaining_seconds"`
}

// YieldView is the JSON representation of a Yield. APY is omitted when
// unavailable.
type YieldView struct {
	Address      string   `json:"address"`
	Seed         string   `json:"seed"`
	TotalRewards uint64   `json:"total_rewards"`
	APY          *float64 `json:"apy,omitempty"`
}

// SummaryView is the JSON representation of a Summary.
type SummaryView struct {
	TotalStaked    uint64 `json:"total_staked"`
	TotalStakedSOL string `json:"total_staked_sol"`
	WalletBalance  uint64 `json:"wallet_balance"`
	WalletSOL      string `json:"wallet_balance_sol"`
	StakedPercent  int    `json:"staked_percent"`
	Accounts       int    `json:"accounts"`
}

// View converts r for JSON output.
func (r *Record) View() RecordView {
	v := RecordView{
		Address:      r.Address.String(),
		Seed:         r.Seed,
		Lamports:     r.Lamports,
		SOL:          FormatSOL(r.Lamports),
		TotalRewards: r.TotalRewards(),
		Rewards:      make([]RewardView, len(r.Rewards)),
	}
	if r.State != nil {
		v.State = r.State.Kind()
	}
	switch s := r.State.(type) {
	case Initialized:
		v.Staker = s.Meta.Staker.String()
		v.Withdrawer = s.Meta.Withdrawer.String()
	case Delegated:
		v.Staker = s.Meta.Staker.String()
		v.Withdrawer = s.Meta.Withdrawer.String()
		dv := &DelegationView{
			Voter:           s.Delegation.Voter.String(),
			Stake:           s.Delegation.Stake,
			ActivationEpoch: s.Delegation.ActivationEpoch,
		}
		if s.Delegation.Deactivating() {
			e := s.Delegation.DeactivationEpoch
			dv.DeactivationEpoch = &e
		}
		v.Delegation = dv
	}
	for i, rw := range r.Rewards {
		v.Rewards[i] = rw.View()
	}
	return v
}

// View converts rw for JSON output.
func (rw Reward) View() RewardView {
	return RewardView{
		Epoch:         rw.Epoch,
		Amount:        rw.Amount,
		PostBalance:   rw.PostBalance,
		EffectiveSlot: rw.EffectiveSlot,
	}
}

// View converts s for JSON output.
func (s *EpochSnapshot) View() EpochView {
	remaining := s.TimeRemaining()
	return EpochView{
		Epoch:            s.Epoch,
		SlotIndex:        s.SlotIndex,
		SlotsInEpoch:     s.SlotsInEpoch,
		FirstSlot:        s.FirstSlot,
		StartTime:        s.StartTime,
		Progress:         s.Progress(),
		TimeRemaining:    remaining.Round(time.Second).String(),
		TimeRemainingSec: remaining.Seconds(),
	}
}

// View converts y for JSON output.
func (y Yield) View() YieldView {
	v := YieldView{
		Address:      y.Address.String(),
		Seed:         y.Seed,
		TotalRewards: y.TotalRewards,
	}
	if y.Available {
		apy := y.APY
		v.APY = &apy
	}
	return v
}

// View converts s for JSON output.
func (s Summary) View() SummaryView {
	return SummaryView{
		TotalStaked:    s.TotalStaked,
		TotalStakedSOL: FormatSOL(s.TotalStaked),
		WalletBalance:  s.WalletBalance,
		WalletSOL:      FormatSOL(s.WalletBalance),
		StakedPercent:  s.StakedPercent,
		Accounts:       s.Accounts,
	}
}

// RecordViews converts records for JSON output.
func RecordViews(records []*Record) []RecordView {
	out := make([]RecordView, len(records))
	for i, r := range records {
		out[i] = r.View()
	}
	return out
}

// Record rebuilds the record v was produced from. Fields that View drops,
// such as the lockup and rent reserve, are left zero.
func (v RecordView) Record() (*Record, error) {
	addr, err := solanago.PublicKeyFromBase58(v.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid stake account address %q: %w", v.Address, err)
	}
	rec := &Record{
		Address:  addr,
		Seed:     v.Seed,
		Lamports: v.Lamports,
		Rewards:  make([]Reward, len(v.Rewards)),
	}
	for i, rw := range v.Rewards {
		rec.Rewards[i] = Reward{
			Epoch:         rw.Epoch,
			Amount:        rw.Amount,
			PostBalance:   rw.PostBalance,
			EffectiveSlot: rw.EffectiveSlot,
		}
	}

	var meta Meta
	if meta.Staker, err = optionalKey(v.Staker); err != nil {
		return nil, err
	}
	if meta.Withdrawer, err = optionalKey(v.Withdrawer); err != nil {
		return nil, err
	}

	switch v.State {
	case KindUninitialized:
		rec.State = Uninitialized{}
	case KindInitialized:
		rec.State = Initialized{Meta: meta}
	case KindRewardsPool:
		rec.State = RewardsPool{}
	case KindDelegated:
		if v.Delegation == nil {
			return nil, fmt.Errorf("%w: delegated account %s has no delegation", ErrParseAccount, v.Address)
		}
		voter, err := optionalKey(v.Delegation.Voter)
		if err != nil {
			return nil, err
		}
		d := Delegation{
			Voter:             voter,
			Stake:             v.Delegation.Stake,
			ActivationEpoch:   v.Delegation.ActivationEpoch,
			DeactivationEpoch: NotDeactivating,
		}
		if v.Delegation.DeactivationEpoch != nil {
			d.DeactivationEpoch = *v.Delegation.DeactivationEpoch
		}
		rec.State = Delegated{Meta: meta, Delegation: d}
	case "":
	default:
		return nil, fmt.Errorf("%w: unknown state %q", ErrParseAccount, v.State)
	}
	return rec, nil
}

// RecordsFromViews rebuilds records from their JSON form.
func RecordsFromViews(views []RecordView) ([]*Record, error) {
	out := make([]*Record, len(views))
	for i, v := range views {
		rec, err := v.Record()
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// Snapshot rebuilds the epoch snapshot v was produced from.
func (v EpochView) Snapshot(schedule solana.EpochSchedule) *EpochSnapshot {
	return &EpochSnapshot{
		Epoch:        v.Epoch,
		SlotIndex:    v.SlotIndex,
		SlotsInEpoch: v.SlotsInEpoch,
		FirstSlot:    v.FirstSlot,
		StartTime:    v.StartTime,
		Schedule:     schedule,
	}
}

func optionalKey(s string) (solanago.PublicKey, error) {
	if s == "" {
		return solanago.PublicKey{}, nil
	}
	key, err := solanago.PublicKeyFromBase58(s)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	return key, nil
}

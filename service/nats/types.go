package nats

import (
	"strings"
	"time"

	"github.com/brojonat/solstake/service/stake"
	solanago "github.com/gagliardetto/solana-go"
)

// Event kinds, used as the last token of a subject and as the SSE event name.
const (
	KindAccounts = "accounts"
	KindRewards  = "rewards"
	KindReport   = "report"
)

// Subject returns "stake.{wallet}.{kind}".
func Subject(wallet, kind string) string {
	return SubjectPrefix + wallet + "." + kind
}

// WalletSubjects matches every event published for wallet.
func WalletSubjects(wallet string) string {
	return SubjectPrefix + wallet + ".>"
}

// KindFromSubject returns the event kind of a subject built by Subject.
func KindFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// StakeAccountsEvent is the full tracked list of a wallet after a change.
// This is published to the subject "stake.{wallet}.accounts".
type StakeAccountsEvent struct {
	Wallet      string             `json:"wallet"`
	Accounts    []stake.RecordView `json:"accounts"`
	PublishedAt time.Time          `json:"published_at"`
}

// NewStakeAccountsEvent converts a reconciler snapshot for publishing.
func NewStakeAccountsEvent(owner solanago.PublicKey, records []*stake.Record) *StakeAccountsEvent {
	return &StakeAccountsEvent{
		Wallet:      owner.String(),
		Accounts:    stake.RecordViews(records),
		PublishedAt: time.Now().UTC(),
	}
}

// RewardsProgressEvent reports one completed batch of reward epochs.
// This is published to the subject "stake.{wallet}.rewards".
type RewardsProgressEvent struct {
	Wallet    string   `json:"wallet"`
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
	Epochs    []uint64 `json:"epochs"`
	// Rewards found in this batch, keyed by stake account address.
	Rewards     map[string][]stake.RewardView `json:"rewards"`
	PublishedAt time.Time                     `json:"published_at"`
}

// NewRewardsProgressEvent converts a fetcher progress report for publishing.
func NewRewardsProgressEvent(owner solanago.PublicKey, p stake.RewardsProgress) *RewardsProgressEvent {
	rewards := make(map[string][]stake.RewardView, len(p.Batch))
	for addr, rs := range p.Batch {
		views := make([]stake.RewardView, len(rs))
		for i, r := range rs {
			views[i] = r.View()
		}
		rewards[addr.String()] = views
	}
	return &RewardsProgressEvent{
		Wallet:      owner.String(),
		Completed:   p.Completed,
		Total:       p.Total,
		Epochs:      p.Epochs,
		Rewards:     rewards,
		PublishedAt: time.Now().UTC(),
	}
}

// StakeReportEvent is the output of a scheduled stake report.
// This is published to the subject "stake.{wallet}.report".
type StakeReportEvent struct {
	Wallet      string             `json:"wallet"`
	Epoch       *stake.EpochView   `json:"epoch,omitempty"`
	Accounts    []stake.RecordView `json:"accounts"`
	Yields      []stake.YieldView  `json:"yields"`
	Summary     stake.SummaryView  `json:"summary"`
	GeneratedAt time.Time          `json:"generated_at"`
}

package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	natspkg "github.com/brojonat/solstake/service/nats"
	"github.com/brojonat/solstake/service/solana"
	"github.com/brojonat/solstake/service/stake"
	solanago "github.com/gagliardetto/solana-go"
)

// StakeReportInput contains the input parameters for a stake report.
type StakeReportInput struct {
	Wallet string `json:"wallet"`
}

// StakeReportResult contains the result of a stake report run.
type StakeReportResult struct {
	Wallet       string    `json:"wallet"`
	Epoch        uint64    `json:"epoch"`
	Accounts     int       `json:"accounts"`
	RewardEpochs int       `json:"reward_epochs"`
	TotalStaked  uint64    `json:"total_staked"`
	RunTime      time.Time `json:"run_time"`
	Error        *string   `json:"error,omitempty"`
}

// EpochResult is the epoch snapshot plus the schedule needed to place
// activation epochs in time.
type EpochResult struct {
	Snapshot stake.EpochView      `json:"snapshot"`
	Schedule solana.EpochSchedule `json:"schedule"`
}

// ScanStakeAccountsInput contains parameters for the ScanStakeAccounts activity.
type ScanStakeAccountsInput struct {
	Wallet string `json:"wallet"`
}

// ScanStakeAccountsResult contains the wallet's stake accounts and balance.
type ScanStakeAccountsResult struct {
	Accounts      []stake.RecordView `json:"accounts"`
	WalletBalance uint64             `json:"wallet_balance"`
}

// FetchRewardsInput contains parameters for the FetchRewards activity.
type FetchRewardsInput struct {
	Accounts     []stake.RecordView `json:"accounts"`
	CurrentEpoch uint64             `json:"current_epoch"`
}

// FetchRewardsResult contains the accounts with their reward history filled in.
type FetchRewardsResult struct {
	Accounts []stake.RecordView `json:"accounts"`
	Epochs   int                `json:"epochs"`
}

// ComputeYieldsInput contains parameters for the ComputeYields activity.
type ComputeYieldsInput struct {
	Accounts []stake.RecordView `json:"accounts"`
	Epoch    EpochResult        `json:"epoch"`
}

// ComputeYieldsResult contains one yield per account.
type ComputeYieldsResult struct {
	Yields []stake.YieldView `json:"yields"`
}

// PublishReportInput contains parameters for the PublishReport activity.
type PublishReportInput struct {
	Wallet        string             `json:"wallet"`
	Epoch         stake.EpochView    `json:"epoch"`
	Accounts      []stake.RecordView `json:"accounts"`
	Yields        []stake.YieldView  `json:"yields"`
	WalletBalance uint64             `json:"wallet_balance"`
	StartedAt     time.Time          `json:"started_at"`
}

// ReportPublisher defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type ReportPublisher interface {
	PublishReport(ctx context.Context, event *natspkg.StakeReportEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Every activity rebuilds what it needs from the ledger; nothing is kept
// between runs.
type Activities struct {
	ledger    stake.Ledger
	publisher ReportPublisher
	scanner   *stake.Scanner
	fetcher   *stake.RewardsFetcher
	estimator *stake.EpochEstimator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	ledger stake.Ledger,
	publisher ReportPublisher,
	rewardBatchSize int,
	backoff stake.Backoff,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	resolver := stake.NewBlockTimeResolver(ledger, backoff, m, logger)
	return &Activities{
		ledger:    ledger,
		publisher: publisher,
		scanner:   stake.NewScanner(ledger, solana.StakeProgramID, m, logger),
		fetcher:   stake.NewRewardsFetcher(ledger, rewardBatchSize, m, logger),
		estimator: stake.NewEpochEstimator(ledger, resolver, logger),
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) observe(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

// BuildEpochSnapshot captures the current epoch.
func (a *Activities) BuildEpochSnapshot(ctx context.Context) (*EpochResult, error) {
	defer a.observe("BuildEpochSnapshot", time.Now())

	snap, err := a.estimator.Snapshot(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to build epoch snapshot", "error", err)
		return nil, fmt.Errorf("failed to build epoch snapshot: %w", err)
	}

	a.logger.InfoContext(ctx, "built epoch snapshot",
		"epoch", snap.Epoch,
		"start_resolved", snap.StartTime != nil,
	)
	return &EpochResult{Snapshot: snap.View(), Schedule: snap.Schedule}, nil
}

// ScanStakeAccounts discovers the wallet's stake accounts and reads its balance.
func (a *Activities) ScanStakeAccounts(ctx context.Context, input ScanStakeAccountsInput) (*ScanStakeAccountsResult, error) {
	defer a.observe("ScanStakeAccounts", time.Now())

	owner, err := solanago.PublicKeyFromBase58(input.Wallet)
	if err != nil {
		a.logger.ErrorContext(ctx, "invalid wallet address",
			"wallet", input.Wallet,
			"error", err,
		)
		return nil, fmt.Errorf("invalid wallet address: %w", err)
	}

	records, err := a.scanner.Scan(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stake accounts: %w", err)
	}
	balance, err := a.ledger.GetBalance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}

	a.logger.InfoContext(ctx, "scanned stake accounts",
		"wallet", input.Wallet,
		"count", len(records),
	)
	return &ScanStakeAccountsResult{
		Accounts:      stake.RecordViews(records),
		WalletBalance: balance,
	}, nil
}

// FetchRewards fills in the reward history of every account, from the
// earliest activation epoch up to the epoch before CurrentEpoch.
func (a *Activities) FetchRewards(ctx context.Context, input FetchRewardsInput) (*FetchRewardsResult, error) {
	defer a.observe("FetchRewards", time.Now())

	accounts := append([]stake.RecordView(nil), input.Accounts...)
	records, err := stake.RecordsFromViews(accounts)
	if err != nil {
		return nil, err
	}
	minActivation, ok := stake.MinActivationEpoch(records)
	if !ok {
		a.logger.DebugContext(ctx, "no delegated accounts, skipping reward history")
		return &FetchRewardsResult{Accounts: accounts}, nil
	}

	addresses := make([]solanago.PublicKey, len(records))
	for i, rec := range records {
		addresses[i] = rec.Address
	}

	rewards, err := a.fetcher.FetchRewards(ctx, addresses, minActivation, input.CurrentEpoch, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rewards: %w", err)
	}

	for i := range accounts {
		history := rewards[addresses[i]]
		accounts[i].Rewards = make([]stake.RewardView, len(history))
		accounts[i].TotalRewards = 0
		for j, rw := range history {
			accounts[i].Rewards[j] = rw.View()
			accounts[i].TotalRewards += rw.Amount
		}
	}

	epochs := len(stake.RewardEpochs(minActivation, input.CurrentEpoch))
	a.logger.InfoContext(ctx, "fetched reward history",
		"accounts", len(accounts),
		"epochs", epochs,
	)
	return &FetchRewardsResult{Accounts: accounts, Epochs: epochs}, nil
}

// ComputeYields annualizes each account's rewards over the time since its
// stake became active. Accounts whose yield cannot be computed get a nil APY.
func (a *Activities) ComputeYields(ctx context.Context, input ComputeYieldsInput) (*ComputeYieldsResult, error) {
	defer a.observe("ComputeYields", time.Now())

	records, err := stake.RecordsFromViews(input.Accounts)
	if err != nil {
		return nil, err
	}
	snapshot := input.Epoch.Snapshot.Snapshot(input.Epoch.Schedule)
	computed := a.estimator.ComputeYields(ctx, records, snapshot)
	yields := make([]stake.YieldView, len(computed))
	for i, y := range computed {
		yields[i] = y.View()
	}
	return &ComputeYieldsResult{Yields: yields}, nil
}

// PublishReport publishes the assembled report to NATS.
func (a *Activities) PublishReport(ctx context.Context, input PublishReportInput) error {
	defer a.observe("PublishReport", time.Now())

	records := make([]*stake.Record, len(input.Accounts))
	for i, acct := range input.Accounts {
		records[i] = &stake.Record{Lamports: acct.Lamports}
	}
	epoch := input.Epoch
	event := &natspkg.StakeReportEvent{
		Wallet:      input.Wallet,
		Epoch:       &epoch,
		Accounts:    input.Accounts,
		Yields:      input.Yields,
		Summary:     stake.Summarize(records, input.WalletBalance).View(),
		GeneratedAt: time.Now().UTC(),
	}

	if a.publisher == nil {
		a.logger.WarnContext(ctx, "no publisher configured, dropping stake report", "wallet", input.Wallet)
		return nil
	}
	if err := a.publisher.PublishReport(ctx, event); err != nil {
		a.recordWorkflow("publish_failed", input.StartedAt)
		return fmt.Errorf("failed to publish stake report: %w", err)
	}

	a.recordWorkflow("success", input.StartedAt)
	a.logger.InfoContext(ctx, "published stake report",
		"wallet", input.Wallet,
		"accounts", len(input.Accounts),
	)
	return nil
}

func (a *Activities) recordWorkflow(status string, startedAt time.Time) {
	if a.metrics != nil && !startedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(status, time.Since(startedAt).Seconds())
	}
}

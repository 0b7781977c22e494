package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// StakeReportWorkflowName is the registered name of StakeReportWorkflow.
const StakeReportWorkflowName = "StakeReportWorkflow"

var a *Activities // for type-safe activity invocation

// StakeReportWorkflow rebuilds a wallet's stake report from the ledger and
// publishes it. It is triggered by a per-wallet Temporal schedule.
//
// The workflow performs these steps:
// 1. Capture the current epoch (BuildEpochSnapshot)
// 2. Discover the wallet's stake accounts (ScanStakeAccounts)
// 3. Fill in reward history (FetchRewards)
// 4. Annualize rewards per account (ComputeYields)
// 5. Publish the report to NATS (PublishReport)
func StakeReportWorkflow(ctx workflow.Context, input StakeReportInput) (*StakeReportResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("StakeReportWorkflow started", "wallet", input.Wallet)

	startedAt := workflow.Now(ctx)
	result := &StakeReportResult{
		Wallet:  input.Wallet,
		RunTime: startedAt,
	}
	fail := func(step string, err error) (*StakeReportResult, error) {
		logger.Error("stake report step failed", "wallet", input.Wallet, "step", step, "error", err)
		errMsg := fmt.Sprintf("%s: %v", step, err)
		result.Error = &errMsg
		return result, fmt.Errorf("%s: %w", step, err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var epoch *EpochResult
	if err := workflow.ExecuteActivity(ctx, a.BuildEpochSnapshot).Get(ctx, &epoch); err != nil {
		return fail("failed to build epoch snapshot", err)
	}
	result.Epoch = epoch.Snapshot.Epoch

	var scan *ScanStakeAccountsResult
	if err := workflow.ExecuteActivity(ctx, a.ScanStakeAccounts, ScanStakeAccountsInput{Wallet: input.Wallet}).Get(ctx, &scan); err != nil {
		return fail("failed to scan stake accounts", err)
	}
	result.Accounts = len(scan.Accounts)
	for _, acct := range scan.Accounts {
		result.TotalStaked += acct.Lamports
	}
	logger.Info("scanned stake accounts", "wallet", input.Wallet, "count", result.Accounts)

	var rewards *FetchRewardsResult
	err := workflow.ExecuteActivity(ctx, a.FetchRewards, FetchRewardsInput{
		Accounts:     scan.Accounts,
		CurrentEpoch: epoch.Snapshot.Epoch,
	}).Get(ctx, &rewards)
	if err != nil {
		return fail("failed to fetch rewards", err)
	}
	result.RewardEpochs = rewards.Epochs

	var yields *ComputeYieldsResult
	err = workflow.ExecuteActivity(ctx, a.ComputeYields, ComputeYieldsInput{
		Accounts: rewards.Accounts,
		Epoch:    *epoch,
	}).Get(ctx, &yields)
	if err != nil {
		return fail("failed to compute yields", err)
	}

	err = workflow.ExecuteActivity(ctx, a.PublishReport, PublishReportInput{
		Wallet:        input.Wallet,
		Epoch:         epoch.Snapshot,
		Accounts:      rewards.Accounts,
		Yields:        yields.Yields,
		WalletBalance: scan.WalletBalance,
		StartedAt:     startedAt,
	}).Get(ctx, nil)
	if err != nil {
		return fail("failed to publish stake report", err)
	}

	logger.Info("StakeReportWorkflow completed successfully",
		"wallet", input.Wallet,
		"epoch", result.Epoch,
		"accounts", result.Accounts,
		"reward_epochs", result.RewardEpochs,
	)
	return result, nil
}

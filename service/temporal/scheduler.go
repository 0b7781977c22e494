package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for stake reports.
// Each wallet with a live session gets its own schedule that triggers the
// StakeReportWorkflow.
type Scheduler interface {
	// UpsertReportSchedule creates the wallet's schedule, or updates its
	// interval when it already exists.
	UpsertReportSchedule(ctx context.Context, wallet string, interval time.Duration) error

	// DeleteReportSchedule deletes the schedule for a wallet.
	DeleteReportSchedule(ctx context.Context, wallet string) error
}

// ScheduleIDPrefix prefixes every stake report schedule ID.
const ScheduleIDPrefix = "stake-report-"

// scheduleID returns the Temporal schedule ID for a wallet address.
func scheduleID(wallet string) string {
	return ScheduleIDPrefix + wallet
}

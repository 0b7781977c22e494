package stake

import (
	"context"
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// SecondsPerYear annualizes yields (365 days).
const SecondsPerYear = 365 * 24 * 60 * 60

// Yield is the annualized return of one stake account.
type Yield struct {
	Address      solanago.PublicKey
	Seed         string
	TotalRewards uint64
	// APY is a fraction (0.07 means 7%). Only meaningful when Available.
	APY       float64
	Available bool
}

// EffectiveAPY annualizes totalRewards earned on a balance of lamports
// between start and end. It is unavailable when the rewards are not smaller
// than the balance or when the period is not positive.
func EffectiveAPY(lamports, totalRewards uint64, start, end time.Time) (float64, bool) {
	if totalRewards >= lamports {
		return 0, false
	}
	period := end.Sub(start).Seconds()
	if period <= 0 {
		return 0, false
	}
	initialStake := float64(lamports - totalRewards)
	return float64(totalRewards) / initialStake / period * SecondsPerYear, true
}

// ComputeAPY estimates the annualized yield of rec as of the start of the
// snapshot's epoch, counting from when its stake became active. It is
// unavailable for undelegated records and when either time is unknown.
func (e *EpochEstimator) ComputeAPY(ctx context.Context, rec *Record, snapshot *EpochSnapshot) (float64, bool) {
	d, ok := rec.Delegation()
	if !ok || snapshot == nil || snapshot.StartTime == nil {
		return 0, false
	}
	activated, ok := e.ActivationTime(ctx, snapshot.Schedule, d.ActivationEpoch)
	if !ok {
		return 0, false
	}
	return EffectiveAPY(rec.Lamports, rec.TotalRewards(), activated, *snapshot.StartTime)
}

// ComputeYields computes a Yield for every record.
func (e *EpochEstimator) ComputeYields(ctx context.Context, records []*Record, snapshot *EpochSnapshot) []Yield {
	out := make([]Yield, len(records))
	for i, rec := range records {
		apy, ok := e.ComputeAPY(ctx, rec, snapshot)
		out[i] = Yield{
			Address:      rec.Address,
			Seed:         rec.Seed,
			TotalRewards: rec.TotalRewards(),
			APY:          apy,
			Available:    ok,
		}
	}
	return out
}

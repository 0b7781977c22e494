package stake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// DefaultRewardBatchSize is how many epochs are queried concurrently.
const DefaultRewardBatchSize = 4

// RewardSource returns inflation rewards for a set of addresses in one epoch,
// positionally aligned with addresses (nil where nothing was earned).
type RewardSource interface {
	GetInflationReward(ctx context.Context, addresses []solanago.PublicKey, epoch uint64) ([]*solana.InflationReward, error)
}

// RewardsProgress is reported after each completed batch of epochs.
type RewardsProgress struct {
	Completed int      // epochs completed so far
	Total     int      // epochs in the whole range
	Epochs    []uint64 // epochs in this batch, newest first
	// Batch holds only the rewards found in this batch.
	Batch map[solanago.PublicKey][]Reward
}

// RewardsFetcher collects per-epoch reward history for a set of accounts.
type RewardsFetcher struct {
	source    RewardSource
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRewardsFetcher creates a fetcher querying batchSize epochs at a time.
// A non-positive batchSize uses DefaultRewardBatchSize.
func NewRewardsFetcher(source RewardSource, batchSize int, m *metrics.Metrics, logger *slog.Logger) *RewardsFetcher {
	if batchSize <= 0 {
		batchSize = DefaultRewardBatchSize
	}
	return &RewardsFetcher{
		source:    source,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger,
	}
}

// RewardEpochs lists the epochs to query: from currentEpoch-1 down to, but
// excluding, minActivationEpoch.
func RewardEpochs(minActivationEpoch, currentEpoch uint64) []uint64 {
	if currentEpoch == 0 || currentEpoch-1 <= minActivationEpoch {
		return nil
	}
	out := make([]uint64, 0, currentEpoch-1-minActivationEpoch)
	for e := currentEpoch - 1; e > minActivationEpoch; e-- {
		out = append(out, e)
	}
	return out
}

// MinActivationEpoch returns the earliest activation epoch among delegated
// records. Activation epoch 0 is treated as unknown and ignored.
func MinActivationEpoch(records []*Record) (uint64, bool) {
	var (
		earliest uint64
		found    bool
	)
	for _, rec := range records {
		d, ok := rec.Delegation()
		if !ok || d.ActivationEpoch == 0 {
			continue
		}
		if !found || d.ActivationEpoch < earliest {
			earliest = d.ActivationEpoch
			found = true
		}
	}
	return earliest, found
}

// FetchRewards queries every epoch in RewardEpochs(minActivationEpoch,
// currentEpoch) for addresses, batchSize epochs at a time. progress, when
// non-nil, is called after each batch. Cancellation is honoured between
// batches. On failure the rewards gathered by earlier batches are returned
// alongside the error.
func (f *RewardsFetcher) FetchRewards(
	ctx context.Context,
	addresses []solanago.PublicKey,
	minActivationEpoch, currentEpoch uint64,
	progress func(RewardsProgress),
) (map[solanago.PublicKey][]Reward, error) {
	result := make(map[solanago.PublicKey][]Reward)
	epochs := RewardEpochs(minActivationEpoch, currentEpoch)
	if len(addresses) == 0 || len(epochs) == 0 {
		return result, nil
	}

	f.logger.InfoContext(ctx, "fetching reward history",
		"addresses", len(addresses),
		"epochs", len(epochs),
		"from_epoch", epochs[0],
		"to_epoch", epochs[len(epochs)-1],
	)

	completed := 0
	for start := 0; start < len(epochs); start += f.batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := min(start+f.batchSize, len(epochs))
		batchEpochs := epochs[start:end]

		batch, err := f.fetchBatch(ctx, addresses, batchEpochs)
		if err != nil {
			return result, err
		}

		for addr, rewards := range batch {
			result[addr] = append(result[addr], rewards...)
		}
		completed += len(batchEpochs)

		if progress != nil {
			progress(RewardsProgress{
				Completed: completed,
				Total:     len(epochs),
				Epochs:    append([]uint64(nil), batchEpochs...),
				Batch:     batch,
			})
		}
	}

	return result, nil
}

func (f *RewardsFetcher) fetchBatch(ctx context.Context, addresses []solanago.PublicKey, epochs []uint64) (map[solanago.PublicKey][]Reward, error) {
	start := time.Now()
	perEpoch := make([][]*solana.InflationReward, len(epochs))

	g, gctx := errgroup.WithContext(ctx)
	for i, epoch := range epochs {
		g.Go(func() error {
			rewards, err := f.source.GetInflationReward(gctx, addresses, epoch)
			if err != nil {
				return fmt.Errorf("inflation rewards for epoch %d: %w", epoch, err)
			}
			perEpoch[i] = rewards
			return nil
		})
	}
	err := g.Wait()

	if f.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		f.metrics.RecordRewardBatch(status, time.Since(start).Seconds())
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "reward batch failed",
			"epochs", epochs,
			"error", err,
		)
		return nil, err
	}

	// Epochs are newest first, so appending in order keeps histories sorted.
	batch := make(map[solanago.PublicKey][]Reward)
	for i, epoch := range epochs {
		for j, addr := range addresses {
			if j >= len(perEpoch[i]) || perEpoch[i][j] == nil {
				continue
			}
			r := perEpoch[i][j]
			batch[addr] = append(batch[addr], Reward{
				Epoch:         epoch,
				Amount:        r.Amount,
				PostBalance:   r.PostBalance,
				EffectiveSlot: r.EffectiveSlot,
			})
		}
	}
	return batch, nil
}

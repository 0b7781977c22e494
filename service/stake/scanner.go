package stake

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/brojonat/solstake/service/metrics"
	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// AccountSource lists program accounts matching a filter.
type AccountSource interface {
	ScanProgramAccounts(ctx context.Context, programID solanago.PublicKey, filter solana.ProgramFilter) ([]*solana.Account, error)
}

// Scanner discovers every stake account whose staker authority is a wallet.
type Scanner struct {
	source    AccountSource
	programID solanago.PublicKey
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewScanner creates a Scanner for programID.
func NewScanner(source AccountSource, programID solanago.PublicKey, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	return &Scanner{
		source:    source,
		programID: programID,
		metrics:   m,
		logger:    logger,
	}
}

// Scan returns owner's stake accounts sorted by seed label. Accounts whose
// data fails to decode are skipped.
func (s *Scanner) Scan(ctx context.Context, owner solanago.PublicKey) ([]*Record, error) {
	probes, err := NewProbeSet(owner, s.programID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	accounts, err := s.source.ScanProgramAccounts(ctx, s.programID, solana.StakeAuthorityFilter(owner))
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordScan(status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("scan stake accounts for %s: %w", owner, err)
	}

	records := make([]*Record, 0, len(accounts))
	for _, acct := range accounts {
		state, err := DecodeState(acct.Data)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable stake account",
				"address", acct.Address.String(),
				"error", err,
			)
			continue
		}
		records = append(records, &Record{
			Address:  acct.Address,
			Seed:     probes.Classify(acct.Address),
			Lamports: acct.Lamports,
			State:    state,
		})
	}
	SortRecords(records)

	s.logger.InfoContext(ctx, "discovered stake accounts",
		"wallet", owner.String(),
		"count", len(records),
		"duration", time.Since(start),
	)

	return records, nil
}

// SortRecords orders records by seed label using plain string comparison
// ("0" < "1" < "10" < "2"), breaking ties by address.
func SortRecords(records []*Record) {
	slices.SortStableFunc(records, func(a, b *Record) int {
		if c := strings.Compare(a.Seed, b.Seed); c != 0 {
			return c
		}
		return strings.Compare(a.Address.String(), b.Address.String())
	})
}

package stake

import (
	"strconv"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Summary aggregates a wallet's staked and liquid balances.
type Summary struct {
	TotalStaked   uint64
	WalletBalance uint64
	// StakedPercent is floor(staked / (staked + balance) * 100).
	StakedPercent int
	Accounts      int
}

// Summarize builds a Summary from tracked records and the wallet's own balance.
func Summarize(records []*Record, walletBalance uint64) Summary {
	s := Summary{
		WalletBalance: walletBalance,
		Accounts:      len(records),
	}
	for _, rec := range records {
		s.TotalStaked += rec.Lamports
	}
	if total := s.TotalStaked + walletBalance; total > 0 {
		s.StakedPercent = int(float64(s.TotalStaked) / float64(total) * 100)
	}
	return s
}

// FormatSOL renders lamports as a SOL amount with up to 9 decimals and no
// trailing zeros (1_500_000_000 -> "1.5").
func FormatSOL(lamports uint64) string {
	whole := lamports / LamportsPerSOL
	frac := lamports % LamportsPerSOL
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := strconv.FormatUint(frac+LamportsPerSOL, 10)[1:]
	for fs[len(fs)-1] == '0' {
		fs = fs[:len(fs)-1]
	}
	return strconv.FormatUint(whole, 10) + "." + fs
}

// ToSOL converts lamports to a floating point SOL amount for display.
func ToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

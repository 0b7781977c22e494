package stake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	records := []*Record{
		{Address: newKey(), Lamports: 3 * LamportsPerSOL},
		{Address: newKey(), Lamports: 1 * LamportsPerSOL},
	}
	s := Summarize(records, 4*LamportsPerSOL)
	assert.Equal(t, uint64(4*LamportsPerSOL), s.TotalStaked)
	assert.Equal(t, 50, s.StakedPercent)
	assert.Equal(t, 2, s.Accounts)

	// Percent is floored.
	s = Summarize([]*Record{{Lamports: 1}}, 2)
	assert.Equal(t, 33, s.StakedPercent)

	s = Summarize(nil, 0)
	assert.Equal(t, 0, s.StakedPercent)
	assert.Equal(t, 0, s.Accounts)

	s = Summarize(records, 0)
	assert.Equal(t, 100, s.StakedPercent)
}

func TestFormatSOL(t *testing.T) {
	tests := []struct {
		lamports uint64
		want     string
	}{
		{0, "0"},
		{1, "0.000000001"},
		{1_500_000_000, "1.5"},
		{2_000_000_000, "2"},
		{1_234_567_890, "1.23456789"},
		{10_000_000, "0.01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSOL(tt.lamports), "lamports %d", tt.lamports)
	}
}

func TestSummaryView(t *testing.T) {
	v := Summarize([]*Record{{Lamports: 1_500_000_000}}, 500_000_000).View()
	assert.Equal(t, "1.5", v.TotalStakedSOL)
	assert.Equal(t, "0.5", v.WalletSOL)
	assert.Equal(t, 75, v.StakedPercent)
}

package stake

import (
	"testing"

	"github.com/brojonat/solstake/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAddress_Deterministic(t *testing.T) {
	owner := newKey()

	a, err := DeriveAddress(owner, "stake:0", solana.StakeProgramID)
	require.NoError(t, err)
	b, err := DeriveAddress(owner, "stake:0", solana.StakeProgramID)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	want, err := solanago.CreateWithSeed(owner, "stake:0", solana.StakeProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, a)

	c, err := DeriveAddress(owner, "stake:1", solana.StakeProgramID)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDeriveAddress_SeedTooLong(t *testing.T) {
	_, err := DeriveAddress(newKey(), "this seed is far longer than thirty-two bytes", solana.StakeProgramID)
	assert.Error(t, err)
}

func TestProbeSet(t *testing.T) {
	owner := newKey()
	ps, err := NewProbeSet(owner, solana.StakeProgramID)
	require.NoError(t, err)

	probes := ps.Probes()
	require.Len(t, probes, 2*ProbeWindow)
	assert.Equal(t, "stake:0", probes[0].Seed)
	assert.Equal(t, "stake:19", probes[ProbeWindow-1].Seed)
	assert.Equal(t, "0", probes[ProbeWindow].Seed)
	assert.Equal(t, "19", probes[2*ProbeWindow-1].Seed)

	colon3, _ := DeriveAddress(owner, "stake:3", solana.StakeProgramID)
	plain7, _ := DeriveAddress(owner, "7", solana.StakeProgramID)
	outside, _ := DeriveAddress(owner, "20", solana.StakeProgramID)

	assert.Equal(t, "stake:3", ps.Classify(colon3))
	assert.Equal(t, "7", ps.Classify(plain7))
	assert.Equal(t, FallbackLabel(outside), ps.Classify(outside))
}

func TestFallbackLabel(t *testing.T) {
	addr := solanago.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
	assert.Equal(t, "1111111111111111111111111111111...", FallbackLabel(addr))
}

func TestFirstUnusedSeed(t *testing.T) {
	owner := newKey()
	program := solana.StakeProgramID

	track := func(seeds ...string) []*Record {
		var out []*Record
		for _, s := range seeds {
			addr, err := DeriveAddress(owner, s, program)
			require.NoError(t, err)
			out = append(out, &Record{Address: addr, Seed: s})
		}
		return out
	}

	tests := []struct {
		name    string
		tracked []*Record
		want    string
	}{
		{name: "nothing tracked", tracked: nil, want: "0"},
		{name: "gap", tracked: track("0", "1", "3"), want: "2"},
		{name: "contiguous", tracked: track("0", "1", "2"), want: "3"},
		{name: "colon seeds do not count", tracked: track("stake:0", "stake:1"), want: "0"},
		{name: "unrelated accounts", tracked: []*Record{{Address: newKey(), Seed: "x"}}, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FirstUnusedSeed(owner, program, tt.tracked)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

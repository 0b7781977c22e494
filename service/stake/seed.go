package stake

import (
	"fmt"
	"strconv"

	solanago "github.com/gagliardetto/solana-go"
)

// ProbeWindow is how many indices of each seed family are probed when
// classifying discovered accounts.
const ProbeWindow = 20

// seedFamilies are the naming conventions wallets use for derived stake
// accounts, in lookup priority order.
var seedFamilies = []func(i int) string{
	func(i int) string { return "stake:" + strconv.Itoa(i) },
	strconv.Itoa,
}

// DeriveAddress computes the address derived from owner, seed and programID
// (create-with-seed derivation).
func DeriveAddress(owner solanago.PublicKey, seed string, programID solanago.PublicKey) (solanago.PublicKey, error) {
	addr, err := solanago.CreateWithSeed(owner, seed, programID)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("derive address for seed %q: %w", seed, err)
	}
	return addr, nil
}

// ProbeSet maps the addresses of the well-known seeds of an owner back to the
// seed that produced them.
type ProbeSet struct {
	probes    []SeedProbe
	byAddress map[solanago.PublicKey]string
}

// NewProbeSet derives "stake:0".."stake:19" then "0".."19" for owner. When two
// seeds collide on one address the first derived wins.
func NewProbeSet(owner, programID solanago.PublicKey) (*ProbeSet, error) {
	ps := &ProbeSet{
		probes:    make([]SeedProbe, 0, len(seedFamilies)*ProbeWindow),
		byAddress: make(map[solanago.PublicKey]string, len(seedFamilies)*ProbeWindow),
	}
	for _, family := range seedFamilies {
		for i := 0; i < ProbeWindow; i++ {
			seed := family(i)
			addr, err := DeriveAddress(owner, seed, programID)
			if err != nil {
				return nil, err
			}
			ps.probes = append(ps.probes, SeedProbe{Seed: seed, Address: addr})
			if _, taken := ps.byAddress[addr]; !taken {
				ps.byAddress[addr] = seed
			}
		}
	}
	return ps, nil
}

// Probes returns the derived candidates in priority order.
func (p *ProbeSet) Probes() []SeedProbe {
	out := make([]SeedProbe, len(p.probes))
	copy(out, p.probes)
	return out
}

// Classify returns the seed for address, or a truncated-address label when
// address is not one of the probed derivations.
func (p *ProbeSet) Classify(address solanago.PublicKey) string {
	if seed, ok := p.byAddress[address]; ok {
		return seed
	}
	return FallbackLabel(address)
}

// FallbackLabel labels an account whose seed is unknown: the base58 address
// with its first 12 characters dropped, followed by "...".
func FallbackLabel(address solanago.PublicKey) string {
	s := address.String()
	if len(s) <= 12 {
		return s + "..."
	}
	return s[12:] + "..."
}

// FirstUnusedSeed returns the smallest non-negative integer n whose decimal
// seed derives an address not present in tracked.
func FirstUnusedSeed(owner, programID solanago.PublicKey, tracked []*Record) (string, error) {
	used := make(map[solanago.PublicKey]struct{}, len(tracked))
	for _, r := range tracked {
		used[r.Address] = struct{}{}
	}

	// At most len(tracked) derivations can collide, so this terminates.
	for n := 0; ; n++ {
		seed := strconv.Itoa(n)
		addr, err := DeriveAddress(owner, seed, programID)
		if err != nil {
			return "", err
		}
		if _, taken := used[addr]; !taken {
			return seed, nil
		}
	}
}

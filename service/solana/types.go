package solana

import (
	"github.com/gagliardetto/solana-go"
)

// StakeProgramID is the native stake program.
var StakeProgramID = solana.StakeProgramID

const (
	// StakeAccountSize is the fixed data length of a stake program account.
	StakeAccountSize = 200

	// StakeAuthorityOffset is the byte offset of the staker authority in a
	// stake account's data (after the 4 byte state tag and 8 byte rent reserve).
	StakeAuthorityOffset = 12
)

// Account is the raw ledger view of a single account.
// This is our domain model, independent of the RPC response format.
type Account struct {
	Address  solana.PublicKey
	Lamports uint64
	Owner    solana.PublicKey
	Data     []byte
	Slot     uint64 // context slot the account was observed at, 0 if unknown
}

// InflationReward is the reward credited to one address for one epoch.
type InflationReward struct {
	Epoch         uint64
	EffectiveSlot uint64
	Amount        uint64
	PostBalance   uint64
}

// EpochInfo describes the ledger's current epoch position.
type EpochInfo struct {
	Epoch        uint64
	SlotIndex    uint64
	SlotsInEpoch uint64
	AbsoluteSlot uint64
}

// EpochSchedule is the cluster's epoch layout.
type EpochSchedule struct {
	SlotsPerEpoch    uint64
	FirstNormalEpoch uint64
	FirstNormalSlot  uint64
	Warmup           bool
}

// ProgramFilter narrows a program account scan to accounts of a given data
// size whose 32 bytes at AuthorityOffset equal Authority.
type ProgramFilter struct {
	DataSize        uint64
	AuthorityOffset uint64
	Authority       solana.PublicKey
}

// StakeAuthorityFilter returns the filter selecting stake accounts whose
// staker authority is owner.
func StakeAuthorityFilter(owner solana.PublicKey) ProgramFilter {
	return ProgramFilter{
		DataSize:        StakeAccountSize,
		AuthorityOffset: StakeAuthorityOffset,
		Authority:       owner,
	}
}

// AccountNotification is a single change delivered by a subscription.
// A nil Account means the ledger reported the account as gone.
type AccountNotification struct {
	Address solana.PublicKey
	Slot    uint64
	Account *Account
}

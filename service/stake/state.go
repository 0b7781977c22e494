package stake

import (
	"fmt"

	"github.com/brojonat/solstake/service/solana"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	stateTagUninitialized uint32 = iota
	stateTagInitialized
	stateTagStake
	stateTagRewardsPool
)

// DecodeState parses stake program account data. Anything other than a full
// stake account layout is rejected. Errors wrap ErrParseAccount.
func DecodeState(data []byte) (State, error) {
	if len(data) != solana.StakeAccountSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrParseAccount, solana.StakeAccountSize, len(data))
	}
	dec := bin.NewBinDecoder(data)

	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: reading state tag: %v", ErrParseAccount, err)
	}

	switch tag {
	case stateTagUninitialized:
		return Uninitialized{}, nil
	case stateTagRewardsPool:
		return RewardsPool{}, nil
	case stateTagInitialized:
		meta, err := decodeMeta(dec)
		if err != nil {
			return nil, err
		}
		return Initialized{Meta: meta}, nil
	case stateTagStake:
		meta, err := decodeMeta(dec)
		if err != nil {
			return nil, err
		}
		delegation, credits, err := decodeStake(dec)
		if err != nil {
			return nil, err
		}
		if delegation.Voter.IsZero() {
			return nil, fmt.Errorf("%w: delegated account has no vote account", ErrParseAccount)
		}
		return Delegated{Meta: meta, Delegation: delegation, CreditsObserved: credits}, nil
	default:
		return nil, fmt.Errorf("%w: unknown state tag %d", ErrParseAccount, tag)
	}
}

func decodeMeta(dec *bin.Decoder) (Meta, error) {
	var (
		meta Meta
		err  error
	)
	if meta.RentExemptReserve, err = dec.ReadUint64(bin.LE); err != nil {
		return Meta{}, fmt.Errorf("%w: reading rent reserve: %v", ErrParseAccount, err)
	}
	if meta.Staker, err = readPublicKey(dec); err != nil {
		return Meta{}, fmt.Errorf("%w: reading staker: %v", ErrParseAccount, err)
	}
	if meta.Withdrawer, err = readPublicKey(dec); err != nil {
		return Meta{}, fmt.Errorf("%w: reading withdrawer: %v", ErrParseAccount, err)
	}
	if meta.Lockup.UnixTimestamp, err = dec.ReadInt64(bin.LE); err != nil {
		return Meta{}, fmt.Errorf("%w: reading lockup timestamp: %v", ErrParseAccount, err)
	}
	if meta.Lockup.Epoch, err = dec.ReadUint64(bin.LE); err != nil {
		return Meta{}, fmt.Errorf("%w: reading lockup epoch: %v", ErrParseAccount, err)
	}
	if meta.Lockup.Custodian, err = readPublicKey(dec); err != nil {
		return Meta{}, fmt.Errorf("%w: reading custodian: %v", ErrParseAccount, err)
	}
	return meta, nil
}

func decodeStake(dec *bin.Decoder) (Delegation, uint64, error) {
	var (
		d   Delegation
		err error
	)
	if d.Voter, err = readPublicKey(dec); err != nil {
		return Delegation{}, 0, fmt.Errorf("%w: reading voter: %v", ErrParseAccount, err)
	}
	if d.Stake, err = dec.ReadUint64(bin.LE); err != nil {
		return Delegation{}, 0, fmt.Errorf("%w: reading stake: %v", ErrParseAccount, err)
	}
	if d.ActivationEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return Delegation{}, 0, fmt.Errorf("%w: reading activation epoch: %v", ErrParseAccount, err)
	}
	if d.DeactivationEpoch, err = dec.ReadUint64(bin.LE); err != nil {
		return Delegation{}, 0, fmt.Errorf("%w: reading deactivation epoch: %v", ErrParseAccount, err)
	}
	if d.WarmupCooldownRate, err = dec.ReadFloat64(bin.LE); err != nil {
		return Delegation{}, 0, fmt.Errorf("%w: reading warmup rate: %v", ErrParseAccount, err)
	}
	credits, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return Delegation{}, 0, fmt.Errorf("%w: reading credits observed: %v", ErrParseAccount, err)
	}
	return d, credits, nil
}

func readPublicKey(dec *bin.Decoder) (solanago.PublicKey, error) {
	b, err := dec.ReadNBytes(solanago.PublicKeyLength)
	if err != nil {
		return solanago.PublicKey{}, err
	}
	return solanago.PublicKeyFromBytes(b), nil
}

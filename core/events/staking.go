package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/core/types"
)

const (
	// TypeStaked is emitted after principal is pulled into custody.
	TypeStaked = "staking.staked"
	// TypeUnstaked is emitted after principal is returned to the participant.
	TypeUnstaked = "staking.unstaked"
	// TypeRewardClaimed is emitted once per reward token paid out by a claim.
	TypeRewardClaimed = "staking.rewardClaimed"
	// TypeRewardConfigSet records a replacement of the active reward token list.
	TypeRewardConfigSet = "staking.rewardConfigSet"
	// TypeRewardAmountUpdated records a rate-only update of the active list.
	TypeRewardAmountUpdated = "staking.rewardAmountUpdated"
	// TypeFeeSet records a change of the claim fee.
	TypeFeeSet = "staking.feeSet"
	// TypeTreasurySet records a change of the fee recipient.
	TypeTreasurySet = "staking.treasurySet"
	// TypeOwnershipTransferred records a change of the configuration owner.
	TypeOwnershipTransferred = "staking.ownershipTransferred"
)

// Staked captures a principal deposit.
type Staked struct {
	Account     common.Address
	Amount      *big.Int
	Principal   *big.Int
	TotalStaked *big.Int
	Timestamp   uint64
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	return &types.Event{Type: TypeStaked, Attributes: map[string]string{
		"account":     e.Account.Hex(),
		"amount":      formatAmount(e.Amount),
		"principal":   formatAmount(e.Principal),
		"totalStaked": formatAmount(e.TotalStaked),
		"timestamp":   formatUint(e.Timestamp),
	}}
}

// Unstaked captures a principal withdrawal.
type Unstaked struct {
	Account     common.Address
	Amount      *big.Int
	Principal   *big.Int
	TotalStaked *big.Int
	Timestamp   uint64
}

// EventType satisfies the Event interface.
func (Unstaked) EventType() string { return TypeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e Unstaked) Event() *types.Event {
	return &types.Event{Type: TypeUnstaked, Attributes: map[string]string{
		"account":     e.Account.Hex(),
		"amount":      formatAmount(e.Amount),
		"principal":   formatAmount(e.Principal),
		"totalStaked": formatAmount(e.TotalStaked),
		"timestamp":   formatUint(e.Timestamp),
	}}
}

// RewardClaimed captures the payout of a single reward token.
type RewardClaimed struct {
	Account   common.Address
	Token     common.Address
	Gross     *big.Int
	Fee       *big.Int
	Net       *big.Int
	Treasury  common.Address
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardClaimed) EventType() string { return TypeRewardClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardClaimed) Event() *types.Event {
	attrs := map[string]string{
		"account":   e.Account.Hex(),
		"token":     e.Token.Hex(),
		"gross":     formatAmount(e.Gross),
		"fee":       formatAmount(e.Fee),
		"net":       formatAmount(e.Net),
		"timestamp": formatUint(e.Timestamp),
	}
	if !zeroAddress(e.Treasury) {
		attrs["treasury"] = e.Treasury.Hex()
	}
	return &types.Event{Type: TypeRewardClaimed, Attributes: attrs}
}

// RewardConfigSet captures a replacement of the active reward list.
type RewardConfigSet struct {
	Owner     common.Address
	Tokens    []common.Address
	Rates     []*big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardConfigSet) EventType() string { return TypeRewardConfigSet }

// Event converts the structured payload into a broadcastable event.
func (e RewardConfigSet) Event() *types.Event {
	return &types.Event{Type: TypeRewardConfigSet, Attributes: map[string]string{
		"owner":     e.Owner.Hex(),
		"tokens":    formatAddresses(e.Tokens),
		"rates":     formatAmounts(e.Rates),
		"timestamp": formatUint(e.Timestamp),
	}}
}

// RewardAmountUpdated captures a rate-only update.
type RewardAmountUpdated struct {
	Owner     common.Address
	Tokens    []common.Address
	Rates     []*big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (RewardAmountUpdated) EventType() string { return TypeRewardAmountUpdated }

// Event converts the structured payload into a broadcastable event.
func (e RewardAmountUpdated) Event() *types.Event {
	return &types.Event{Type: TypeRewardAmountUpdated, Attributes: map[string]string{
		"owner":     e.Owner.Hex(),
		"tokens":    formatAddresses(e.Tokens),
		"rates":     formatAmounts(e.Rates),
		"timestamp": formatUint(e.Timestamp),
	}}
}

// FeeSet captures a claim fee change.
type FeeSet struct {
	Owner       common.Address
	PreviousBps uint64
	FeeBps      uint64
}

// EventType satisfies the Event interface.
func (FeeSet) EventType() string { return TypeFeeSet }

// Event converts the structured payload into a broadcastable event.
func (e FeeSet) Event() *types.Event {
	return &types.Event{Type: TypeFeeSet, Attributes: map[string]string{
		"owner":       e.Owner.Hex(),
		"previousBps": formatUint(e.PreviousBps),
		"feeBps":      formatUint(e.FeeBps),
	}}
}

// TreasurySet captures a fee recipient change.
type TreasurySet struct {
	Owner    common.Address
	Previous common.Address
	Treasury common.Address
}

// EventType satisfies the Event interface.
func (TreasurySet) EventType() string { return TypeTreasurySet }

// Event converts the structured payload into a broadcastable event.
func (e TreasurySet) Event() *types.Event {
	return &types.Event{Type: TypeTreasurySet, Attributes: map[string]string{
		"owner":    e.Owner.Hex(),
		"previous": e.Previous.Hex(),
		"treasury": e.Treasury.Hex(),
	}}
}

// OwnershipTransferred captures a change of configuration owner.
type OwnershipTransferred struct {
	Previous common.Address
	Owner    common.Address
}

// EventType satisfies the Event interface.
func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

// Event converts the structured payload into a broadcastable event.
func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{Type: TypeOwnershipTransferred, Attributes: map[string]string{
		"previous": e.Previous.Hex(),
		"owner":    e.Owner.Hex(),
	}}
}

package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position tracks a participant's principal together with the per-token
// settlement checkpoint (Paid) and the settled but unclaimed rewards
// (Pending). Positions are created implicitly and never deleted.
type Position struct {
	Account   common.Address
	Principal *big.Int
	Paid      map[common.Address]*big.Int
	Pending   map[common.Address]*big.Int
}

// NewPosition returns an all-zero position for addr.
func NewPosition(addr common.Address) *Position {
	return &Position{
		Account:   addr,
		Principal: big.NewInt(0),
		Paid:      make(map[common.Address]*big.Int),
		Pending:   make(map[common.Address]*big.Int),
	}
}

// PaidFor returns a copy of the accumulator value last settled for token.
func (p *Position) PaidFor(token common.Address) *big.Int {
	if p == nil || p.Paid == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(p.Paid[token])
}

// PendingFor returns a copy of the unclaimed reward for token.
func (p *Position) PendingFor(token common.Address) *big.Int {
	if p == nil || p.Pending == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(p.Pending[token])
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := NewPosition(p.Account)
	out.Principal = cloneBigInt(p.Principal)
	for token, v := range p.Paid {
		out.Paid[token] = cloneBigInt(v)
	}
	for token, v := range p.Pending {
		out.Pending[token] = cloneBigInt(v)
	}
	return out
}

func (p *Position) normalize() *Position {
	if p.Principal == nil {
		p.Principal = big.NewInt(0)
	}
	if p.Paid == nil {
		p.Paid = make(map[common.Address]*big.Int)
	}
	if p.Pending == nil {
		p.Pending = make(map[common.Address]*big.Int)
	}
	return p
}

// Accumulator is the reward-per-unit-staked index of a single reward token.
// AccumulatedPerUnit is scaled by Scale and never decreases.
type Accumulator struct {
	Token              common.Address
	RatePerPeriod      *big.Int
	AccumulatedPerUnit *big.Int
	LastCheckpoint     uint64
}

// Clone returns a deep copy of the accumulator.
func (a *Accumulator) Clone() *Accumulator {
	if a == nil {
		return nil
	}
	return &Accumulator{
		Token:              a.Token,
		RatePerPeriod:      cloneBigInt(a.RatePerPeriod),
		AccumulatedPerUnit: cloneBigInt(a.AccumulatedPerUnit),
		LastCheckpoint:     a.LastCheckpoint,
	}
}

// Globals holds the ledger-wide parameters. RewardTokens is the ordered list
// of tokens currently accruing; KnownTokens lists every token ever configured
// in first-seen order so retired tokens remain claimable.
type Globals struct {
	TotalStaked  *big.Int
	FeeBps       uint64
	Treasury     common.Address
	Owner        common.Address
	RewardTokens []common.Address
	KnownTokens  []common.Address
}

// Clone returns a deep copy of the globals.
func (g *Globals) Clone() *Globals {
	if g == nil {
		return nil
	}
	return &Globals{
		TotalStaked:  cloneBigInt(g.TotalStaked),
		FeeBps:       g.FeeBps,
		Treasury:     g.Treasury,
		Owner:        g.Owner,
		RewardTokens: append([]common.Address(nil), g.RewardTokens...),
		KnownTokens:  append([]common.Address(nil), g.KnownTokens...),
	}
}

func (g *Globals) isKnown(token common.Address) bool {
	for _, known := range g.KnownTokens {
		if known == token {
			return true
		}
	}
	return false
}

func (g *Globals) isActive(token common.Address) bool {
	for _, active := range g.RewardTokens {
		if active == token {
			return true
		}
	}
	return false
}

// claimOrder lists the active tokens in configured order followed by the
// retired tokens in first-seen order.
func (g *Globals) claimOrder() []common.Address {
	order := append([]common.Address(nil), g.RewardTokens...)
	for _, token := range g.KnownTokens {
		if !g.isActive(token) {
			order = append(order, token)
		}
	}
	return order
}

// RewardToken describes an active reward token and its emission rate.
type RewardToken struct {
	Token         common.Address
	RatePerPeriod *big.Int
}

// TokenAmount pairs a reward token with an amount.
type TokenAmount struct {
	Token  common.Address
	Amount *big.Int
}

// Claim is the payout breakdown of a single reward token.
type Claim struct {
	Token common.Address
	Gross *big.Int
	Fee   *big.Int
	Net   *big.Int
}

// ChangeSet is the unit of state written by one ledger call. Nil Globals means
// the globals were not modified.
type ChangeSet struct {
	Globals      *Globals
	Accumulators []*Accumulator
	Positions    []*Position
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	return c == nil || (c.Globals == nil && len(c.Accumulators) == 0 && len(c.Positions) == 0)
}

package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/core/events"
)

// beginAdmin opens a journal for an owner-only call and checkpoints the
// active accumulators so past accrual is settled under the old parameters.
func (e *Engine) beginAdmin(caller common.Address, now uint64) (*journal, *Globals, error) {
	j := newJournal(e.state)
	g, err := j.loadGlobals()
	if err != nil {
		return nil, nil, err
	}
	if caller == (common.Address{}) || caller != g.Owner {
		return nil, nil, ErrNotOwner
	}
	if err := e.checkpoint(j, now); err != nil {
		return nil, nil, err
	}
	return j, g, nil
}

func cloneRates(rates []*big.Int) []*big.Int {
	out := make([]*big.Int, len(rates))
	for i, r := range rates {
		out[i] = cloneBigInt(r)
	}
	return out
}

func validateRates(rates []*big.Int) error {
	for _, rate := range rates {
		if rate == nil || rate.Sign() < 0 {
			return ErrInvalidAmount
		}
	}
	return checkWords(rates...)
}

// validateRewardConfig rejects null, duplicate and principal tokens, then bad
// rates. Principal held in custody must never be paid out as a reward.
func (e *Engine) validateRewardConfig(tokens []common.Address, rates []*big.Int) error {
	seen := make(map[common.Address]struct{}, len(tokens))
	for _, token := range tokens {
		if token == (common.Address{}) || token == e.cfg.PrincipalToken {
			return ErrInvalidAddress
		}
		if _, dup := seen[token]; dup {
			return ErrInvalidAddress
		}
		seen[token] = struct{}{}
	}
	return validateRates(rates)
}

// ReplaceRewardConfig swaps in a new ordered list of reward tokens and rates.
// Retained tokens keep their accumulator, new ones start from zero, and
// dropped ones stop accruing but stay claimable. The principal token cannot be
// a reward token.
func (e *Engine) ReplaceRewardConfig(caller common.Address, tokens []common.Address, rates []*big.Int) error {
	release, err := e.enter(false)
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	j, g, err := e.beginAdmin(caller, now)
	if err != nil {
		return err
	}
	if len(tokens) != len(rates) {
		return ErrInvalidLength
	}
	if err := e.validateRewardConfig(tokens, rates); err != nil {
		return err
	}

	for i, token := range tokens {
		acc, err := j.loadAccumulator(token)
		if err != nil {
			return err
		}
		if acc == nil {
			acc = &Accumulator{Token: token, AccumulatedPerUnit: big.NewInt(0)}
			j.putAccumulator(acc)
		}
		acc.RatePerPeriod = cloneBigInt(rates[i])
		acc.LastCheckpoint = now
		j.touchAccumulator(token)
		if !g.isKnown(token) {
			g.KnownTokens = append(g.KnownTokens, token)
		}
	}
	g.RewardTokens = append([]common.Address(nil), tokens...)
	j.touchGlobals()

	if err := e.commit(j, nil); err != nil {
		return err
	}
	e.emit(events.RewardConfigSet{
		Owner:     caller,
		Tokens:    append([]common.Address(nil), tokens...),
		Rates:     cloneRates(rates),
		Timestamp: now,
	})
	return nil
}

// UpdateRatePerPeriod overwrites the rates of the active tokens, in order.
func (e *Engine) UpdateRatePerPeriod(caller common.Address, rates []*big.Int) error {
	release, err := e.enter(false)
	if err != nil {
		return err
	}
	defer release()

	now := e.now()
	j, g, err := e.beginAdmin(caller, now)
	if err != nil {
		return err
	}
	if len(rates) != len(g.RewardTokens) {
		return ErrInvalidLength
	}
	if err := validateRates(rates); err != nil {
		return err
	}
	for i, token := range g.RewardTokens {
		acc, err := j.mustAccumulator(token)
		if err != nil {
			return err
		}
		acc.RatePerPeriod = cloneBigInt(rates[i])
		j.touchAccumulator(token)
	}
	if err := e.commit(j, nil); err != nil {
		return err
	}
	e.emit(events.RewardAmountUpdated{
		Owner:     caller,
		Tokens:    append([]common.Address(nil), g.RewardTokens...),
		Rates:     cloneRates(rates),
		Timestamp: now,
	})
	return nil
}

// SetFee sets the claim fee in basis points.
func (e *Engine) SetFee(caller common.Address, bps uint64) error {
	release, err := e.enter(false)
	if err != nil {
		return err
	}
	defer release()

	j, g, err := e.beginAdmin(caller, e.now())
	if err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return ErrFeeExceedsLimit
	}
	previous := g.FeeBps
	g.FeeBps = bps
	j.touchGlobals()
	if err := e.commit(j, nil); err != nil {
		return err
	}
	e.emit(events.FeeSet{Owner: caller, PreviousBps: previous, FeeBps: bps})
	return nil
}

// SetTreasury sets the fee recipient.
func (e *Engine) SetTreasury(caller, treasury common.Address) error {
	release, err := e.enter(false)
	if err != nil {
		return err
	}
	defer release()

	j, g, err := e.beginAdmin(caller, e.now())
	if err != nil {
		return err
	}
	if treasury == (common.Address{}) {
		return ErrInvalidAddress
	}
	previous := g.Treasury
	g.Treasury = treasury
	j.touchGlobals()
	if err := e.commit(j, nil); err != nil {
		return err
	}
	e.emit(events.TreasurySet{Owner: caller, Previous: previous, Treasury: treasury})
	return nil
}

// TransferOwnership hands the configuration gate to newOwner.
func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	release, err := e.enter(false)
	if err != nil {
		return err
	}
	defer release()

	j, g, err := e.beginAdmin(caller, e.now())
	if err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return ErrInvalidAddress
	}
	previous := g.Owner
	g.Owner = newOwner
	j.touchGlobals()
	if err := e.commit(j, nil); err != nil {
		return err
	}
	e.emit(events.OwnershipTransferred{Previous: previous, Owner: newOwner})
	return nil
}

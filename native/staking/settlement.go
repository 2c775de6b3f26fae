package staking

import "math/big"

// earned returns floor(principal*(acc-paid)/Scale).
func earned(principal, accumulated, paid *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(cloneBigInt(accumulated), cloneBigInt(paid))
	if diff.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	return mulDiv(principal, diff, Scale)
}

// settle credits the rewards earned since the last settlement of acc's token
// to pending and moves the position's checkpoint to the current accumulator.
func (p *Position) settle(acc *Accumulator) error {
	p.normalize()
	amount, err := earned(p.Principal, acc.AccumulatedPerUnit, p.Paid[acc.Token])
	if err != nil {
		return err
	}
	if amount.Sign() > 0 {
		next, err := addWord(p.Pending[acc.Token], amount)
		if err != nil {
			return err
		}
		p.Pending[acc.Token] = next
	}
	p.Paid[acc.Token] = cloneBigInt(acc.AccumulatedPerUnit)
	return nil
}

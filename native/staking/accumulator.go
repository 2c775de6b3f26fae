package staking

import "math/big"

// advance brings the accumulator forward to now. Emission is floored per
// segment: delta = elapsed*rate/period, then acc += delta*Scale/totalStaked.
// Nothing accrues while totalStaked is zero, and a timestamp earlier than the
// last checkpoint counts as zero elapsed time.
func (a *Accumulator) advance(now uint64, totalStaked *big.Int, periodSeconds uint64) error {
	if now <= a.LastCheckpoint {
		return nil
	}
	if totalStaked != nil && totalStaked.Sign() > 0 && periodSeconds > 0 {
		elapsed := new(big.Int).SetUint64(now - a.LastCheckpoint)
		delta, err := mulDiv(elapsed, a.RatePerPeriod, new(big.Int).SetUint64(periodSeconds))
		if err != nil {
			return err
		}
		if delta.Sign() > 0 {
			increment, err := mulDiv(delta, Scale, totalStaked)
			if err != nil {
				return err
			}
			next, err := addWord(a.AccumulatedPerUnit, increment)
			if err != nil {
				return err
			}
			a.AccumulatedPerUnit = next
		}
	}
	a.LastCheckpoint = now
	return nil
}

package staking

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, v)
	}
	return word, nil
}

// checkWords verifies every value is a non-negative 256-bit quantity.
func checkWords(values ...*big.Int) error {
	for _, v := range values {
		if _, err := toWord(v); err != nil {
			return err
		}
	}
	return nil
}

// mulDiv returns floor(x*y/d). The intermediate product is computed at 512
// bits, so only a quotient wider than 256 bits is an overflow.
func mulDiv(x, y, d *big.Int) (*big.Int, error) {
	ux, err := toWord(x)
	if err != nil {
		return nil, err
	}
	uy, err := toWord(y)
	if err != nil {
		return nil, err
	}
	ud, err := toWord(d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return big.NewInt(0), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return z.ToBig(), nil
}

func addWord(a, b *big.Int) (*big.Int, error) {
	ua, err := toWord(a)
	if err != nil {
		return nil, err
	}
	ub, err := toWord(b)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).AddOverflow(ua, ub)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return z.ToBig(), nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

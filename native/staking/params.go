package staking

import "math/big"

const (
	// BasisPoints is the fee denominator.
	BasisPoints = 10_000
	// MaxFeeBps caps the claim fee at 10%.
	MaxFeeBps = 1_000
	// DefaultPeriodSeconds is the emission period used when none is configured.
	DefaultPeriodSeconds uint64 = 7 * 24 * 3600
)

var (
	// Scale is the fixed-point precision of accumulatedPerUnit.
	Scale = big.NewInt(1_000_000_000_000_000_000)

	basisPoints = big.NewInt(BasisPoints)
)

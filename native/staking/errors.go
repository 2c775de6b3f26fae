package staking

import (
	"errors"

	nativecommon "stakeledger/native/common"
)

var (
	ErrInvalidAmount         = errors.New("staking: invalid amount")
	ErrInsufficientBalance   = errors.New("staking: insufficient balance")
	ErrInsufficientPrincipal = errors.New("staking: insufficient principal")
	ErrInvalidLength         = errors.New("staking: invalid length")
	ErrInvalidAddress        = errors.New("staking: invalid address")
	ErrFeeExceedsLimit       = errors.New("staking: fee exceeds limit")
	ErrNotOwner              = errors.New("staking: caller is not the owner")
	ErrTransferFailed        = errors.New("staking: transfer failed")
	ErrAmountOverflow        = errors.New("staking: amount exceeds 256 bits")
	ErrNilState              = errors.New("staking: state not configured")
	ErrNilTokenLedger        = errors.New("staking: token ledger not configured")
	ErrNotInitialized        = errors.New("staking: ledger not initialised")
	ErrAlreadyInitialized    = errors.New("staking: ledger already initialised")
	ErrUnknownToken          = errors.New("staking: unknown reward token")

	// ErrReentrantCall aliases the shared guard error so callers can match on
	// either package.
	ErrReentrantCall = nativecommon.ErrReentrantCall
)

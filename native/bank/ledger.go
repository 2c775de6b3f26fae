package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/storage"
)

var (
	ErrInvalidAmount      = errors.New("bank: invalid amount")
	ErrInsufficientFunds  = errors.New("bank: insufficient funds")
	ErrInvalidAddress     = errors.New("bank: invalid address")
	ErrLedgerUnavailable  = errors.New("bank: ledger unavailable")
	ErrCorruptBalanceData = errors.New("bank: corrupt balance data")
)

var (
	balancePrefix = []byte("bank/balance:")
	supplyPrefix  = []byte("bank/supply:")
	markerPrefix  = []byte("bank/mint-marker:")
)

// TransferHook observes a transfer before it is applied. Returning an error
// aborts the transfer. Hooks run outside the ledger lock so they may call back
// into components that use the ledger.
type TransferHook func(token, from, to common.Address, amount *big.Int) error

// Ledger is a multi-token balance book persisted in a key/value database.
// Each transfer is written as a single batch.
type Ledger struct {
	mu   sync.Mutex
	db   storage.Database
	hook TransferHook
}

// NewLedger returns a ledger backed by db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// SetHook installs a transfer observer. Passing nil removes it.
func (l *Ledger) SetHook(hook TransferHook) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.hook = hook
	l.mu.Unlock()
}

func balanceKey(token, holder common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+common.AddressLength*2+1)
	buf = append(buf, balancePrefix...)
	buf = append(buf, token.Bytes()...)
	buf = append(buf, ':')
	buf = append(buf, holder.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

func supplyKey(token common.Address) []byte {
	buf := make([]byte, 0, len(supplyPrefix)+common.AddressLength)
	buf = append(buf, supplyPrefix...)
	buf = append(buf, token.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	data, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBalanceData, err)
	}
	return amount, nil
}

func putAmount(batch storage.Batch, key []byte, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}

// BalanceOf returns the holder's balance of token. Unknown holders have a zero
// balance.
func (l *Ledger) BalanceOf(token, holder common.Address) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, ErrLedgerUnavailable
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(balanceKey(token, holder))
}

// TotalSupply returns the amount of token minted so far.
func (l *Ledger) TotalSupply(token common.Address) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, ErrLedgerUnavailable
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAmount(supplyKey(token))
}

// TransferFrom moves amount of token from one holder to another. A zero amount
// is accepted and leaves balances untouched.
func (l *Ledger) TransferFrom(token, from, to common.Address, amount *big.Int) error {
	if l == nil || l.db == nil {
		return ErrLedgerUnavailable
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}

	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(token, from, to, new(big.Int).Set(amount)); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fromKey := balanceKey(token, from)
	fromBalance, err := l.readAmount(fromKey)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBalance, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	toKey := balanceKey(token, to)
	toBalance, err := l.readAmount(toKey)
	if err != nil {
		return err
	}

	batch := l.db.NewBatch()
	if err := putAmount(batch, fromKey, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := putAmount(batch, toKey, new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	return batch.Write()
}

// Mint credits amount of token to holder and grows the tracked supply. It is
// used for genesis allocations and development tooling only.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) error {
	if l == nil || l.db == nil {
		return ErrLedgerUnavailable
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if token == (common.Address{}) || holder == (common.Address{}) {
		return ErrInvalidAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey(token, holder)
	balance, err := l.readAmount(key)
	if err != nil {
		return err
	}
	sKey := supplyKey(token)
	supply, err := l.readAmount(sKey)
	if err != nil {
		return err
	}
	batch := l.db.NewBatch()
	if err := putAmount(batch, key, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	if err := putAmount(batch, sKey, new(big.Int).Add(supply, amount)); err != nil {
		return err
	}
	return batch.Write()
}

// Allocation is one credit applied by MintOnce.
type Allocation struct {
	Token  common.Address
	Holder common.Address
	Amount *big.Int
}

func markerKey(label string) []byte {
	return ethcrypto.Keccak256(append(append([]byte(nil), markerPrefix...), label...))
}

// MintOnce credits every allocation and records label in the same batch. It
// reports false without writing anything when label was already recorded.
func (l *Ledger) MintOnce(label string, allocs []Allocation) (bool, error) {
	if l == nil || l.db == nil {
		return false, ErrLedgerUnavailable
	}
	for _, alloc := range allocs {
		if alloc.Amount == nil || alloc.Amount.Sign() <= 0 {
			return false, ErrInvalidAmount
		}
		if alloc.Token == (common.Address{}) || alloc.Holder == (common.Address{}) {
			return false, ErrInvalidAddress
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	marker := markerKey(label)
	done, err := l.db.Has(marker)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	// Repeated token/holder pairs accumulate before anything is written.
	pending := make(map[string]*big.Int)
	order := make([][]byte, 0, len(allocs)*2)
	credit := func(key []byte, amount *big.Int) error {
		current, ok := pending[string(key)]
		if !ok {
			stored, err := l.readAmount(key)
			if err != nil {
				return err
			}
			current = stored
			order = append(order, key)
		}
		pending[string(key)] = new(big.Int).Add(current, amount)
		return nil
	}
	for _, alloc := range allocs {
		if err := credit(balanceKey(alloc.Token, alloc.Holder), alloc.Amount); err != nil {
			return false, err
		}
		if err := credit(supplyKey(alloc.Token), alloc.Amount); err != nil {
			return false, err
		}
	}
	batch := l.db.NewBatch()
	for _, key := range order {
		if err := putAmount(batch, key, pending[string(key)]); err != nil {
			return false, err
		}
	}
	batch.Put(marker, []byte{1})
	if err := batch.Write(); err != nil {
		return false, err
	}
	return true, nil
}

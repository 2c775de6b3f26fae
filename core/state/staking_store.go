package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/native/staking"
	"stakeledger/storage"
)

var (
	stakingGlobalsKey     = ethcrypto.Keccak256([]byte("staking/globals"))
	stakingAccumPrefix    = []byte("staking/accumulator:")
	stakingPositionPrefix = []byte("staking/position:")
	stakingVersionKey     = ethcrypto.Keccak256([]byte("staking/version"))
)

// StakingStoreVersion is bumped whenever the persisted layout changes.
const StakingStoreVersion uint64 = 1

func stakingAccumulatorKey(token common.Address) []byte {
	buf := make([]byte, len(stakingAccumPrefix)+common.AddressLength)
	copy(buf, stakingAccumPrefix)
	copy(buf[len(stakingAccumPrefix):], token.Bytes())
	return ethcrypto.Keccak256(buf)
}

func stakingPositionKey(addr common.Address) []byte {
	buf := make([]byte, len(stakingPositionPrefix)+common.AddressLength)
	copy(buf, stakingPositionPrefix)
	copy(buf[len(stakingPositionPrefix):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

type storedGlobals struct {
	TotalStaked  *big.Int
	FeeBps       uint64
	Treasury     common.Address
	Owner        common.Address
	RewardTokens []common.Address
	KnownTokens  []common.Address
}

type storedAccumulator struct {
	Token              common.Address
	RatePerPeriod      *big.Int
	AccumulatedPerUnit *big.Int
	LastCheckpoint     uint64
}

type storedTokenEntry struct {
	Token   common.Address
	Paid    *big.Int
	Pending *big.Int
}

type storedPosition struct {
	Account   common.Address
	Principal *big.Int
	Entries   []storedTokenEntry
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func newStoredGlobals(g *staking.Globals) *storedGlobals {
	return &storedGlobals{
		TotalStaked:  nonNil(g.TotalStaked),
		FeeBps:       g.FeeBps,
		Treasury:     g.Treasury,
		Owner:        g.Owner,
		RewardTokens: append([]common.Address{}, g.RewardTokens...),
		KnownTokens:  append([]common.Address{}, g.KnownTokens...),
	}
}

func (s *storedGlobals) toGlobals() *staking.Globals {
	return &staking.Globals{
		TotalStaked:  nonNil(s.TotalStaked),
		FeeBps:       s.FeeBps,
		Treasury:     s.Treasury,
		Owner:        s.Owner,
		RewardTokens: append([]common.Address(nil), s.RewardTokens...),
		KnownTokens:  append([]common.Address(nil), s.KnownTokens...),
	}
}

// newStoredPosition flattens the token maps into a slice sorted by token so
// the encoding is deterministic.
func newStoredPosition(p *staking.Position) *storedPosition {
	tokens := make(map[common.Address]struct{}, len(p.Paid)+len(p.Pending))
	for token := range p.Paid {
		tokens[token] = struct{}{}
	}
	for token := range p.Pending {
		tokens[token] = struct{}{}
	}
	entries := make([]storedTokenEntry, 0, len(tokens))
	for token := range tokens {
		entries = append(entries, storedTokenEntry{
			Token:   token,
			Paid:    p.PaidFor(token),
			Pending: p.PendingFor(token),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Token.Bytes(), entries[j].Token.Bytes()) < 0
	})
	return &storedPosition{Account: p.Account, Principal: nonNil(p.Principal), Entries: entries}
}

func (s *storedPosition) toPosition() *staking.Position {
	pos := staking.NewPosition(s.Account)
	pos.Principal = nonNil(s.Principal)
	for _, entry := range s.Entries {
		pos.Paid[entry.Token] = nonNil(entry.Paid)
		pos.Pending[entry.Token] = nonNil(entry.Pending)
	}
	return pos
}

// StakingStore persists the staking ledger in a key/value database. Every
// ChangeSet is written in one batch so a crash never exposes a partial call.
type StakingStore struct {
	mu sync.RWMutex
	db storage.Database
}

// NewStakingStore wraps db.
func NewStakingStore(db storage.Database) *StakingStore {
	return &StakingStore{db: db}
}

func (s *StakingStore) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode staking record: %w", err)
	}
	return true, nil
}

// StakingGlobals loads the ledger globals.
func (s *StakingStore) StakingGlobals() (*staking.Globals, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := new(storedGlobals)
	ok, err := s.get(stakingGlobalsKey, stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toGlobals(), true, nil
}

// StakingAccumulator loads the accumulator of token.
func (s *StakingStore) StakingAccumulator(token common.Address) (*staking.Accumulator, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := new(storedAccumulator)
	ok, err := s.get(stakingAccumulatorKey(token), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &staking.Accumulator{
		Token:              stored.Token,
		RatePerPeriod:      nonNil(stored.RatePerPeriod),
		AccumulatedPerUnit: nonNil(stored.AccumulatedPerUnit),
		LastCheckpoint:     stored.LastCheckpoint,
	}, true, nil
}

// StakingPosition loads the position of addr.
func (s *StakingStore) StakingPosition(addr common.Address) (*staking.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := new(storedPosition)
	ok, err := s.get(stakingPositionKey(addr), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toPosition(), true, nil
}

// StakingApply writes changes atomically.
func (s *StakingStore) StakingApply(changes *staking.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	batch := s.db.NewBatch()
	if changes.Globals != nil {
		encoded, err := rlp.EncodeToBytes(newStoredGlobals(changes.Globals))
		if err != nil {
			return err
		}
		batch.Put(stakingGlobalsKey, encoded)
		version, err := rlp.EncodeToBytes(StakingStoreVersion)
		if err != nil {
			return err
		}
		batch.Put(stakingVersionKey, version)
	}
	for _, acc := range changes.Accumulators {
		encoded, err := rlp.EncodeToBytes(&storedAccumulator{
			Token:              acc.Token,
			RatePerPeriod:      nonNil(acc.RatePerPeriod),
			AccumulatedPerUnit: nonNil(acc.AccumulatedPerUnit),
			LastCheckpoint:     acc.LastCheckpoint,
		})
		if err != nil {
			return err
		}
		batch.Put(stakingAccumulatorKey(acc.Token), encoded)
	}
	for _, pos := range changes.Positions {
		encoded, err := rlp.EncodeToBytes(newStoredPosition(pos))
		if err != nil {
			return err
		}
		batch.Put(stakingPositionKey(pos.Account), encoded)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return batch.Write()
}

// Version returns the persisted layout version, or zero for an empty store.
func (s *StakingStore) Version() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var version uint64
	if _, err := s.get(stakingVersionKey, &version); err != nil {
		return 0, err
	}
	return version, nil
}

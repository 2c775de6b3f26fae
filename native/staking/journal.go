package staking

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// journal is a copy-on-read overlay over the backing state. Every ledger call
// works on one journal and flushes it as a single ChangeSet; the pre-images it
// captures restore the backing state if an external transfer fails.
type journal struct {
	state engineState

	globals      *Globals
	preGlobals   *Globals
	globalsDirty bool

	accumulators map[common.Address]*Accumulator
	preAccs      map[common.Address]*Accumulator
	accOrder     []common.Address
	accDirty     map[common.Address]bool

	positions    map[common.Address]*Position
	prePositions map[common.Address]*Position
	posOrder     []common.Address
	posDirty     map[common.Address]bool
}

func newJournal(state engineState) *journal {
	return &journal{
		state:        state,
		accumulators: make(map[common.Address]*Accumulator),
		preAccs:      make(map[common.Address]*Accumulator),
		accDirty:     make(map[common.Address]bool),
		positions:    make(map[common.Address]*Position),
		prePositions: make(map[common.Address]*Position),
		posDirty:     make(map[common.Address]bool),
	}
}

func (j *journal) loadGlobals() (*Globals, error) {
	if j.globals != nil {
		return j.globals, nil
	}
	g, ok, err := j.state.StakingGlobals()
	if err != nil {
		return nil, err
	}
	if !ok || g == nil {
		return nil, ErrNotInitialized
	}
	j.preGlobals = g.Clone()
	j.globals = g.Clone()
	if j.globals.TotalStaked == nil {
		j.globals.TotalStaked = cloneBigInt(nil)
	}
	return j.globals, nil
}

func (j *journal) touchGlobals() { j.globalsDirty = true }

// loadAccumulator returns the overlay copy of token's accumulator. Missing
// accumulators are reported as nil without error.
func (j *journal) loadAccumulator(token common.Address) (*Accumulator, error) {
	if acc, ok := j.accumulators[token]; ok {
		return acc, nil
	}
	acc, ok, err := j.state.StakingAccumulator(token)
	if err != nil {
		return nil, err
	}
	j.accOrder = append(j.accOrder, token)
	if !ok || acc == nil {
		j.preAccs[token] = nil
		j.accumulators[token] = nil
		return nil, nil
	}
	j.preAccs[token] = acc.Clone()
	working := acc.Clone()
	j.accumulators[token] = working
	return working, nil
}

func (j *journal) mustAccumulator(token common.Address) (*Accumulator, error) {
	acc, err := j.loadAccumulator(token)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return acc, nil
}

func (j *journal) putAccumulator(acc *Accumulator) {
	if _, seen := j.accumulators[acc.Token]; !seen {
		j.accOrder = append(j.accOrder, acc.Token)
		j.preAccs[acc.Token] = nil
	}
	j.accumulators[acc.Token] = acc
	j.accDirty[acc.Token] = true
}

func (j *journal) touchAccumulator(token common.Address) { j.accDirty[token] = true }

// loadPosition returns the overlay copy of addr's position, creating an
// all-zero one if none is stored.
func (j *journal) loadPosition(addr common.Address) (*Position, error) {
	if pos, ok := j.positions[addr]; ok {
		return pos, nil
	}
	pos, ok, err := j.state.StakingPosition(addr)
	if err != nil {
		return nil, err
	}
	j.posOrder = append(j.posOrder, addr)
	if !ok || pos == nil {
		j.prePositions[addr] = nil
		pos = NewPosition(addr)
	} else {
		j.prePositions[addr] = pos.Clone()
		pos = pos.Clone().normalize()
	}
	pos.Account = addr
	j.positions[addr] = pos
	return pos, nil
}

func (j *journal) touchPosition(addr common.Address) { j.posDirty[addr] = true }

// changes collects every modified entry.
func (j *journal) changes() *ChangeSet {
	cs := &ChangeSet{}
	if j.globalsDirty && j.globals != nil {
		cs.Globals = j.globals.Clone()
	}
	for _, token := range j.accOrder {
		if j.accDirty[token] && j.accumulators[token] != nil {
			cs.Accumulators = append(cs.Accumulators, j.accumulators[token].Clone())
		}
	}
	for _, addr := range j.posOrder {
		if j.posDirty[addr] {
			cs.Positions = append(cs.Positions, j.positions[addr].Clone())
		}
	}
	return cs
}

// undo returns the pre-images of every modified entry. Positions that did not
// exist are restored as all-zero positions, which is indistinguishable from
// absence. Accumulators are only created by configuration calls, which never
// perform transfers, so absent accumulators are skipped.
func (j *journal) undo() *ChangeSet {
	cs := &ChangeSet{}
	if j.globalsDirty && j.preGlobals != nil {
		cs.Globals = j.preGlobals.Clone()
	}
	for _, token := range j.accOrder {
		if j.accDirty[token] && j.preAccs[token] != nil {
			cs.Accumulators = append(cs.Accumulators, j.preAccs[token].Clone())
		}
	}
	for _, addr := range j.posOrder {
		if !j.posDirty[addr] {
			continue
		}
		if pre := j.prePositions[addr]; pre != nil {
			cs.Positions = append(cs.Positions, pre.Clone())
		} else {
			cs.Positions = append(cs.Positions, NewPosition(addr))
		}
	}
	return cs
}

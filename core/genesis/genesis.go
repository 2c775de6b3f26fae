package genesis

import (
	"bytes"
	"fmt"
	"sort"

	"stakeledger/config"
	"stakeledger/native/bank"
	"stakeledger/native/staking"
)

// EngineConfig derives the immutable engine parameters from a genesis.
func EngineConfig(g *config.ResolvedGenesis) staking.Config {
	return staking.Config{
		PrincipalToken: g.PrincipalToken,
		Custody:        g.Custody,
		PeriodSeconds:  g.PeriodSeconds,
	}
}

// allocationLabel marks genesis allocations as minted in the bank.
const allocationLabel = "genesis/allocations"

// Apply initialises an empty ledger from g: token allocations, then owner,
// treasury, fee and reward configuration. It reports false without changes
// when the ledger was already initialised.
//
// Each step is idempotent: allocations are minted in one batch together with
// a marker, and the ledger configuration is written as one change set. A
// failed start can therefore be retried without double minting.
func Apply(g *config.ResolvedGenesis, engine *staking.Engine, ledger *bank.Ledger) (bool, error) {
	if g == nil {
		return false, fmt.Errorf("genesis must not be nil")
	}
	if engine == nil || ledger == nil {
		return false, fmt.Errorf("engine and ledger must not be nil")
	}
	initialised, err := engine.Initialized()
	if err != nil {
		return false, err
	}
	if initialised {
		return false, nil
	}

	// Sorted for a deterministic write order.
	allocs := make([]bank.Allocation, 0, len(g.Allocations))
	for _, alloc := range g.Allocations {
		allocs = append(allocs, bank.Allocation{Token: alloc.Token, Holder: alloc.Holder, Amount: alloc.Amount})
	}
	sort.SliceStable(allocs, func(i, j int) bool {
		if c := bytes.Compare(allocs[i].Holder.Bytes(), allocs[j].Holder.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(allocs[i].Token.Bytes(), allocs[j].Token.Bytes()) < 0
	})
	if _, err := ledger.MintOnce(allocationLabel, allocs); err != nil {
		return false, fmt.Errorf("genesis allocations: %w", err)
	}

	if err := engine.InitializeWith(staking.Bootstrap{
		Owner:        g.Owner,
		Treasury:     g.Treasury,
		FeeBps:       g.FeeBps,
		RewardTokens: g.RewardTokens,
		RewardRates:  g.RewardRates,
	}); err != nil {
		return false, fmt.Errorf("initialise ledger: %w", err)
	}
	return true, nil
}

package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Genesis describes the initial ledger: its immutable parameters, the owner
// configuration and the token balances minted at startup.
type Genesis struct {
	Owner          string              `yaml:"owner"`
	Treasury       string              `yaml:"treasury"`
	PrincipalToken string              `yaml:"principalToken"`
	Custody        string              `yaml:"custody"`
	FeeBps         uint64              `yaml:"feeBps"`
	PeriodSeconds  uint64              `yaml:"periodSeconds"`
	Rewards        []GenesisReward     `yaml:"rewards"`
	Allocations    []GenesisAllocation `yaml:"allocations"`
}

type GenesisReward struct {
	Token         string `yaml:"token"`
	RatePerPeriod string `yaml:"ratePerPeriod"`
}

type GenesisAllocation struct {
	Token  string `yaml:"token"`
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

// ResolvedGenesis is a Genesis with every identity and amount parsed.
type ResolvedGenesis struct {
	Owner          common.Address
	Treasury       common.Address
	PrincipalToken common.Address
	Custody        common.Address
	FeeBps         uint64
	PeriodSeconds  uint64
	RewardTokens   []common.Address
	RewardRates    []*big.Int
	Allocations    []ResolvedAllocation
}

type ResolvedAllocation struct {
	Token  common.Address
	Holder common.Address
	Amount *big.Int
}

// LoadGenesis reads and resolves a YAML genesis file.
func LoadGenesis(path string) (*ResolvedGenesis, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis: %w", err)
	}
	defer file.Close()

	var g Genesis
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return g.Resolve()
}

func parseAddress(field, value string, required bool) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return common.Address{}, fmt.Errorf("genesis: %s is required", field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("genesis: %s: invalid address %q", field, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("genesis: %s must not be the zero address", field)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("genesis: %s: invalid amount %q", field, value)
	}
	return amount, nil
}

// Resolve parses and validates the genesis document.
func (g *Genesis) Resolve() (*ResolvedGenesis, error) {
	for i := range g.Rewards {
		g.Rewards[i].Token = strings.ToLower(strings.TrimSpace(g.Rewards[i].Token))
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	out := &ResolvedGenesis{FeeBps: g.FeeBps, PeriodSeconds: g.PeriodSeconds}
	var err error
	if out.Owner, err = parseAddress("owner", g.Owner, true); err != nil {
		return nil, err
	}
	if out.Treasury, err = parseAddress("treasury", g.Treasury, false); err != nil {
		return nil, err
	}
	if out.PrincipalToken, err = parseAddress("principalToken", g.PrincipalToken, true); err != nil {
		return nil, err
	}
	if out.Custody, err = parseAddress("custody", g.Custody, true); err != nil {
		return nil, err
	}
	for i, reward := range g.Rewards {
		token, err := parseAddress(fmt.Sprintf("rewards[%d].token", i), reward.Token, true)
		if err != nil {
			return nil, err
		}
		if token == out.PrincipalToken {
			return nil, fmt.Errorf("genesis: rewards[%d]: token %s is the principal token", i, token.Hex())
		}
		rate, err := parseAmount(fmt.Sprintf("rewards[%d].ratePerPeriod", i), reward.RatePerPeriod)
		if err != nil {
			return nil, err
		}
		out.RewardTokens = append(out.RewardTokens, token)
		out.RewardRates = append(out.RewardRates, rate)
	}
	for i, alloc := range g.Allocations {
		token, err := parseAddress(fmt.Sprintf("allocations[%d].token", i), alloc.Token, true)
		if err != nil {
			return nil, err
		}
		holder, err := parseAddress(fmt.Sprintf("allocations[%d].holder", i), alloc.Holder, true)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(fmt.Sprintf("allocations[%d].amount", i), alloc.Amount)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("genesis: allocations[%d].amount must be positive", i)
		}
		out.Allocations = append(out.Allocations, ResolvedAllocation{Token: token, Holder: holder, Amount: amount})
	}
	return out, nil
}

package config

import (
	"fmt"

	"stakeledger/native/staking"
)

var (
	MinHMACSecretLength = 32
)

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Auth.Enabled {
		if len(cfg.Auth.HMACSecret) < MinHMACSecretLength {
			return fmt.Errorf("auth: hmac secret must be at least %d bytes", MinHMACSecretLength)
		}
	} else if cfg.Environment == "production" {
		return fmt.Errorf("auth: must be enabled in production")
	}
	if cfg.DevMint && cfg.Environment == "production" {
		return fmt.Errorf("DevMint is not allowed in production")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit: values must not be negative")
	}
	if cfg.RateLimit.RequestsPerMinute > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate limit: burst must be positive when a rate is set")
	}
	switch cfg.EventLog.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("event log: unsupported driver %q", cfg.EventLog.Driver)
	}
	return nil
}

func (g *Genesis) validate() error {
	if g.FeeBps > staking.MaxFeeBps {
		return fmt.Errorf("genesis: feeBps %d exceeds %d", g.FeeBps, staking.MaxFeeBps)
	}
	seen := make(map[string]struct{}, len(g.Rewards))
	for i, reward := range g.Rewards {
		if _, dup := seen[reward.Token]; dup {
			return fmt.Errorf("genesis: rewards[%d]: duplicate token %s", i, reward.Token)
		}
		seen[reward.Token] = struct{}{}
	}
	return nil
}

package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics exposes gauges describing the current ledger state.
type StakingMetrics struct {
	totalStaked  prometheus.Gauge
	feeBps       prometheus.Gauge
	activeTokens prometheus.Gauge
	rewardRate   *prometheus.GaugeVec
	compensation *prometheus.CounterVec
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_total_staked",
				Help: "Principal currently locked in the ledger.",
			}),
			feeBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_fee_bps",
				Help: "Claim fee in basis points.",
			}),
			activeTokens: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_active_reward_tokens",
				Help: "Number of reward tokens currently accruing.",
			}),
			rewardRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "staking_reward_rate_per_period",
				Help: "Configured emission per period by reward token.",
			}, []string{"token"}),
			compensation: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_failed_calls_total",
				Help: "Mutating ledger calls rolled back after a failed token transfer.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			stakingRegistry.totalStaked,
			stakingRegistry.feeBps,
			stakingRegistry.activeTokens,
			stakingRegistry.rewardRate,
			stakingRegistry.compensation,
		)
	})
	return stakingRegistry
}

// RateSample is a single reward token rate.
type RateSample struct {
	Token string
	Rate  *big.Int
}

// RecordLedger refreshes the ledger gauges.
func (m *StakingMetrics) RecordLedger(totalStaked *big.Int, feeBps uint64, rates []RateSample) {
	if m == nil {
		return
	}
	m.totalStaked.Set(toFloat(totalStaked))
	m.feeBps.Set(float64(feeBps))
	m.activeTokens.Set(float64(len(rates)))
	m.rewardRate.Reset()
	for _, sample := range rates {
		m.rewardRate.WithLabelValues(sample.Token).Set(toFloat(sample.Rate))
	}
}

// RecordRollback counts a call undone after a transfer failure.
func (m *StakingMetrics) RecordRollback(method string) {
	if m == nil {
		return
	}
	m.compensation.WithLabelValues(method).Inc()
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"stakeledger/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
	claimed *prometheus.CounterVec
	fees    *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured ledger events. The
// registry is itself an events.Emitter so it can be fanned out next to other
// subscribers.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger events segmented by type.",
			}, []string{"type"}),
			claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "events",
				Name:      "rewards_claimed_total",
				Help:      "Net reward units paid to participants segmented by token.",
			}, []string{"token"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "events",
				Name:      "fees_collected_total",
				Help:      "Reward units routed to the treasury segmented by token.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.claimed, eventRegistry.fees)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(evt.EventType()).Inc()
	claim, ok := evt.(events.RewardClaimed)
	if !ok {
		return
	}
	token := labelToken(claim.Token.Hex())
	m.add(m.claimed, token, claim.Net)
	m.add(m.fees, token, claim.Fee)
}

func (m *eventMetrics) add(vec *prometheus.CounterVec, token string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	vec.WithLabelValues(token).Add(bigToFloat(amount))
}

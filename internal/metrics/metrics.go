// Package metrics exposes the service's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

const namespace = "palette"

type Metrics struct {
	chequeTransitions  *prometheus.CounterVec
	ledgerAdjustments  *prometheus.CounterVec
	disputesEscalated  *prometheus.CounterVec
	matchingCandidates prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chequeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cheque_transitions_total",
			Help:      "Accepted cheque status transitions.",
		}, []string{"from", "to"}),
		ledgerAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_adjustments_total",
			Help:      "Ledger adjustments applied, by pallet type.",
		}, []string{"pallet_type"}),
		disputesEscalated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_escalated_total",
			Help:      "Disputes moved to ESCALATED, by actor.",
		}, []string{"actor"}),
		matchingCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matching_candidates",
			Help:      "Number of eligible sites returned by a matching request.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}

	reg.MustRegister(m.chequeTransitions, m.ledgerAdjustments, m.disputesEscalated, m.matchingCandidates)

	return m
}

func (m *Metrics) ChequeTransition(from, to domain.ChequeStatus) {
	if m == nil {
		return
	}
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "NONE"
	}
	m.chequeTransitions.WithLabelValues(fromLabel, string(to)).Inc()
}

func (m *Metrics) LedgerAdjusted(t domain.PalletType) {
	if m == nil {
		return
	}
	m.ledgerAdjustments.WithLabelValues(t.String()).Inc()
}

// DisputeEscalated records an escalation. Sweeps report the system actor.
func (m *Metrics) DisputeEscalated(actor string) {
	if m == nil {
		return
	}
	if actor != domain.AuditActorSystem {
		actor = "user"
	}
	m.disputesEscalated.WithLabelValues(actor).Inc()
}

func (m *Metrics) MatchingCandidates(n int) {
	if m == nil {
		return
	}
	m.matchingCandidates.Observe(float64(n))
}

// Package metrics exposes chain-core activity as Prometheus collectors,
// served by the HTTP surface's /metrics route.
//
// Grounded on the pack's api/metrics package (luxfi-consensus): a small
// struct of pre-registered counters/gauges built with the
// prometheus.NewXxx constructors and registered against a
// prometheus.Registerer, rather than the promauto package's package-level
// globals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the chain core updates as it processes
// ballots.
type Metrics struct {
	BallotsChecked    prometheus.Counter
	BallotsRejected   prometheus.Counter
	BallotsFinalized  prometheus.Counter
	FrontierHeight    *prometheus.GaugeVec
	AppStateHeight    prometheus.Gauge
}

// New builds and registers the application's collectors against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BallotsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vote_bft",
			Name:      "ballots_checked_total",
			Help:      "Number of ballots that completed CheckBallot, successfully or not.",
		}),
		BallotsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vote_bft",
			Name:      "ballots_rejected_total",
			Help:      "Number of ballots rejected by CheckBallot or FinalizeBallot.",
		}),
		BallotsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vote_bft",
			Name:      "ballots_finalized_total",
			Help:      "Number of ballots successfully finalized into storage.",
		}),
		FrontierHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vote_bft",
			Name:      "frontier_height",
			Help:      "Latest commitment-frontier height, by election_id.",
		}, []string{"election_id"}),
		AppStateHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vote_bft",
			Name:      "app_state_height",
			Help:      "Current AppState.height of the node.",
		}),
	}

	collectors := []prometheus.Collector{
		m.BallotsChecked,
		m.BallotsRejected,
		m.BallotsFinalized,
		m.FrontierHeight,
		m.AppStateHeight,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

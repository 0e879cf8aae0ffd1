package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersEveryCollectorOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// A GaugeVec contributes a family to Gather only once it has a child.
	m.FrontierHeight.WithLabelValues("election-a").Set(0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 5 {
		t.Errorf("expected 5 registered metric families, got %d", len(families))
	}
}

func TestMetricsUpdatesAreObservable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.BallotsChecked.Inc()
	m.BallotsFinalized.Inc()
	m.FrontierHeight.WithLabelValues("election-a").Set(3)
	m.AppStateHeight.Set(7)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var sawChecked, sawHeight bool
	for _, fam := range families {
		switch fam.GetName() {
		case "vote_bft_ballots_checked_total":
			sawChecked = true
			if got := fam.Metric[0].GetCounter().GetValue(); got != 1 {
				t.Errorf("ballots_checked_total = %v, want 1", got)
			}
		case "vote_bft_app_state_height":
			sawHeight = true
			if got := fam.Metric[0].GetGauge().GetValue(); got != 7 {
				t.Errorf("app_state_height = %v, want 7", got)
			}
		}
	}
	if !sawChecked || !sawHeight {
		t.Errorf("expected both ballots_checked_total and app_state_height in gathered families")
	}
}

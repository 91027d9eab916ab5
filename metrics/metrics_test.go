package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	PositionsOpen.Set(1)
	if got := testutil.ToFloat64(PositionsOpen); got != 1 {
		t.Fatalf("positions gauge = %v", got)
	}
	seen := map[string]bool{}
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{"smartbot_positions_open", "smartbot_free_balance", "smartbot_realized_pnl"} {
		if !seen[name] {
			t.Fatalf("%s not registered", name)
		}
	}
}

func TestStopUpdatesCounter(t *testing.T) {
	before := testutil.ToFloat64(StopUpdates.WithLabelValues("trailing", "ok"))
	StopUpdates.WithLabelValues("trailing", "ok").Inc()
	if got := testutil.ToFloat64(StopUpdates.WithLabelValues("trailing", "ok")); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
}

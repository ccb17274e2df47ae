package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRequest(OutcomeOK)
	m.RecordRequest(OutcomeOK)
	m.RecordRequest("ValidationError")
	m.RecordStage("align", 0.001)
	m.RecordOracle("http", 0.2, nil)
	m.RecordOracle("http", 0.3, errors.New("boom"))
	m.SetReadyWorkers(3)
	m.AddMissing(4)
	m.AddMissing(0)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(OutcomeOK)); got != 2 {
		t.Errorf("requests{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ValidationError")); got != 1 {
		t.Errorf("requests{ValidationError} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OracleErrorsTotal.WithLabelValues("http")); got != 1 {
		t.Errorf("oracle errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReadyWorkers); got != 3 {
		t.Errorf("ready workers = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MissingValuesTotal); got != 4 {
		t.Errorf("missing values = %v, want 4", got)
	}
	if n := testutil.CollectAndCount(m.StageSeconds); n != 1 {
		t.Errorf("stage series = %d, want 1", n)
	}
}

func TestMetrics_InFlight(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done1 := m.InFlight()
	done2 := m.InFlight()
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 2 {
		t.Fatalf("in flight = %v, want 2", got)
	}
	done1()
	done2()
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue finds the sample of name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func newTestRecorder(t *testing.T) (*Recorder, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, reg
}

func TestRecorder_ChunkWritten(t *testing.T) {
	r, reg := newTestRecorder(t)

	r.ChunkWritten("osrd_infra_signal", 2)
	r.ChunkWritten("osrd_infra_signal", 1)
	r.ChunkWritten("osrd_infra_route", 4)

	if got := counterValue(t, reg, "osrd_insert_chunks_total", map[string]string{"kind": "osrd_infra_signal"}); got != 2 {
		t.Errorf("signal chunks = %v", got)
	}
	if got := counterValue(t, reg, "osrd_inserted_records_total", map[string]string{"kind": "osrd_infra_signal"}); got != 3 {
		t.Errorf("signal records = %v", got)
	}
	if got := counterValue(t, reg, "osrd_inserted_records_total", map[string]string{"kind": "osrd_infra_route"}); got != 4 {
		t.Errorf("route records = %v", got)
	}
}

func TestRecorder_Outcomes(t *testing.T) {
	r, reg := newTestRecorder(t)
	boom := errors.New("boom")

	r.PersistDone(16, nil)
	r.PersistDone(0, boom)
	r.RefreshDone(true, 10*time.Millisecond, nil)
	r.RefreshDone(false, 0, nil)
	r.RefreshDone(false, time.Millisecond, boom)
	r.ClearDone(nil)

	checks := []struct {
		name    string
		outcome string
		want    float64
	}{
		{"osrd_persists_total", OutcomeOK, 1},
		{"osrd_persists_total", OutcomeError, 1},
		{"osrd_generated_refreshes_total", OutcomeOK, 1},
		{"osrd_generated_refreshes_total", OutcomeSkipped, 1},
		{"osrd_generated_refreshes_total", OutcomeError, 1},
		{"osrd_generated_clears_total", OutcomeOK, 1},
	}
	for _, c := range checks {
		if got := counterValue(t, reg, c.name, map[string]string{"outcome": c.outcome}); got != c.want {
			t.Errorf("%s{outcome=%s} = %v, want %v", c.name, c.outcome, got, c.want)
		}
	}
	if got := counterValue(t, reg, "osrd_persisted_objects_total", nil); got != 16 {
		t.Errorf("persisted objects = %v", got)
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestNew_Unregistered(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	r.ChunkWritten("k", 1)
}

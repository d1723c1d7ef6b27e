package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rare-Specie/authkeeper"
)

type fakeSource struct {
	snapshot authkeeper.MetricsSnapshot
	dropped  uint64
	session  authkeeper.SessionGauges
}

func (f fakeSource) MetricsSnapshot() authkeeper.MetricsSnapshot { return f.snapshot }
func (f fakeSource) DroppedEvents() uint64                       { return f.dropped }
func (f fakeSource) SessionGauges() authkeeper.SessionGauges     { return f.session }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authkeeper.MetricsSnapshot{
			Counters:   map[authkeeper.MetricID]uint64{},
			Histograms: map[authkeeper.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authkeeper.MetricsSnapshot{
			Counters: map[authkeeper.MetricID]uint64{
				authkeeper.MetricLoginSuccess: 7,
			},
			Histograms: map[authkeeper.MetricID][]uint64{
				authkeeper.MetricInitLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "authkeeper_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authkeeper_init_latency_seconds_bucket{le=\"0.025\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authkeeper_init_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authkeeper_events_dropped_total 2") {
		t.Fatalf("expected events dropped counter in output, got:\n%s", out)
	}
}

func TestRenderSessionPhaseStateSet(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authkeeper.MetricsSnapshot{
			Counters:   map[authkeeper.MetricID]uint64{authkeeper.MetricLoginSuccess: 1},
			Histograms: map[authkeeper.MetricID][]uint64{},
		},
		session: authkeeper.SessionGauges{Phase: authkeeper.PhaseReady, Remaining: 90 * time.Minute},
	})

	out := exp.Render()
	for _, want := range []string{
		`authkeeper_session_phase{phase="authenticated-ready"} 1`,
		`authkeeper_session_phase{phase="anonymous"} 0`,
		`authkeeper_session_phase{phase="authenticated-uninitialized"} 0`,
		"authkeeper_session_remaining_seconds 5400.000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authkeeper.MetricsSnapshot{
			Counters:   map[authkeeper.MetricID]uint64{authkeeper.MetricLoginSuccess: 1},
			Histograms: map[authkeeper.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authkeeper.MetricsSnapshot{
			Counters: map[authkeeper.MetricID]uint64{
				authkeeper.MetricLoginSuccess:         1000,
				authkeeper.MetricLoginFailure:         40,
				authkeeper.MetricInitSuccess:          800,
				authkeeper.MetricInitFailure:          10,
				authkeeper.MetricTokenExtended:        800,
				authkeeper.MetricSessionExpired:       20,
				authkeeper.MetricNavigationRedirected: 3,
			},
			Histograms: map[authkeeper.MetricID][]uint64{
				authkeeper.MetricInitLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}

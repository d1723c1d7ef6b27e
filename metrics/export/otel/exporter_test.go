package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Rare-Specie/authkeeper"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authkeeper.MetricsSnapshot
	dropped  uint64
	session  authkeeper.SessionGauges
}

func (f *fakeSource) MetricsSnapshot() authkeeper.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authkeeper.MetricsSnapshot{
		Counters:   make(map[authkeeper.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authkeeper.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) DroppedEvents() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) SessionGauges() authkeeper.SessionGauges {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authkeeper-test")

	src := &fakeSource{
		snapshot: authkeeper.MetricsSnapshot{
			Counters: map[authkeeper.MetricID]uint64{
				authkeeper.MetricLoginSuccess: 3,
			},
			Histograms: map[authkeeper.MetricID][]uint64{
				authkeeper.MetricInitLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
		session: authkeeper.SessionGauges{Phase: authkeeper.PhaseUninitialized, Remaining: 30 * time.Second},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	var phase, remaining bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "authkeeper_session_phase":
				g, ok := m.Data.(metricdata.Gauge[int64])
				if !ok || len(g.DataPoints) != 1 || g.DataPoints[0].Value != int64(authkeeper.PhaseUninitialized) {
					t.Fatalf("unexpected session phase data %+v", m.Data)
				}
				phase = true
			case "authkeeper_session_remaining_seconds":
				g, ok := m.Data.(metricdata.Gauge[float64])
				if !ok || len(g.DataPoints) != 1 || g.DataPoints[0].Value != 30 {
					t.Fatalf("unexpected session remaining data %+v", m.Data)
				}
				remaining = true
			}
		}
	}
	if !phase || !remaining {
		t.Fatalf("session gauges missing: phase=%v remaining=%v", phase, remaining)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authkeeper-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authkeeper-test")

	src := &fakeSource{
		snapshot: authkeeper.MetricsSnapshot{
			Counters: map[authkeeper.MetricID]uint64{
				authkeeper.MetricLoginSuccess: 1,
			},
			Histograms: map[authkeeper.MetricID][]uint64{
				authkeeper.MetricInitLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authkeeper.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Rare-Specie/authkeeper"
	"github.com/Rare-Specie/authkeeper/metrics/export/internaldefs"
)

// MetricsSource is what the exporter reads on every scrape.
type MetricsSource interface {
	MetricsSnapshot() authkeeper.MetricsSnapshot
	DroppedEvents() uint64
	SessionGauges() authkeeper.SessionGauges
}

// PrometheusExporter renders controller metrics in Prometheus text
// exposition format.
type PrometheusExporter struct {
	source MetricsSource
}

// NewPrometheusExporter creates an exporter that reads from c.
func NewPrometheusExporter(c *authkeeper.Controller) *PrometheusExporter {
	if c == nil {
		return &PrometheusExporter{}
	}
	return &PrometheusExporter{source: c}
}

// NewPrometheusExporterFromSource creates an exporter over a custom
// [MetricsSource].
func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.DroppedEvents()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(nonCumulative)
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	writeCounter(&b, "authkeeper_events_dropped_total", "Events lost to a full queue or subscriber.", dropped)
	writeSession(&b, p.source.SessionGauges())

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" histogram\n")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Sum is not available in core snapshots; keep a stable field for compatibility.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

// writeSession renders the phase as a state set (one series per phase, the
// current one at 1) and the remaining credential lifetime in seconds.
func writeSession(b *strings.Builder, g authkeeper.SessionGauges) {
	b.WriteString("# HELP authkeeper_session_phase Current session lifecycle phase.\n")
	b.WriteString("# TYPE authkeeper_session_phase gauge\n")
	for phase := authkeeper.PhaseAnonymous; phase <= authkeeper.PhaseReady; phase++ {
		b.WriteString("authkeeper_session_phase{phase=\"")
		b.WriteString(phase.String())
		b.WriteString("\"} ")
		if phase == g.Phase {
			b.WriteString("1\n")
		} else {
			b.WriteString("0\n")
		}
	}

	b.WriteString("# HELP authkeeper_session_remaining_seconds Time until the held credential expires.\n")
	b.WriteString("# TYPE authkeeper_session_remaining_seconds gauge\n")
	b.WriteString("authkeeper_session_remaining_seconds ")
	b.WriteString(strconv.FormatFloat(g.Remaining.Seconds(), 'f', 3, 64))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

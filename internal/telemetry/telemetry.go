// Package telemetry exposes the stream worker's counters as Prometheus
// counters and gauges and serves them over HTTP, the way this system's teacher wires up
// promauto gauges and a /metrics handler in its own main package.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/n5dr/vita-streamer/internal/streamer"
)

// Metrics holds the Prometheus collectors mirroring streamer.Stats plus the
// subscriber registry's active count.
type Metrics struct {
	packetsSent  prometheus.Counter
	bytesSent    prometheus.Counter
	contextsSent prometheus.Counter
	reconfigs    prometheus.Counter
	sendFailures prometheus.Counter

	underflows     prometheus.Counter
	overflows      prometheus.Counter
	refillFailures prometheus.Counter
	timestampJumps prometheus.Counter

	loopUsMin prometheus.Gauge
	loopUsMax prometheus.Gauge
	loopUsAvg prometheus.Gauge

	activeSubscribers prometheus.Gauge
	cpuPercent        prometheus.Gauge
}

// NewMetrics constructs and registers every collector against the default
// Prometheus registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		packetsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_packets_sent_total",
			Help: "Total Data packets sent to any subscriber.",
		}),
		bytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_bytes_sent_total",
			Help: "Total wire bytes of Data packets emitted, counted once per packet; Context packets are not included.",
		}),
		contextsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_contexts_sent_total",
			Help: "Total Context packets sent (periodic plus reconfigure-triggered).",
		}),
		reconfigs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_reconfigs_total",
			Help: "Total successful hardware reconfigurations.",
		}),
		sendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_send_failures_total",
			Help: "Total per-subscriber datagram send failures.",
		}),
		underflows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_underflows_total",
			Help: "Total refill-gap events where the stream worker fell behind the sample rate.",
		}),
		overflows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_overflows_total",
			Help: "Total refill-gap events where samples arrived earlier than expected.",
		}),
		refillFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_refill_failures_total",
			Help: "Total transient SDR refill failures.",
		}),
		timestampJumps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vita_streamer_timestamp_jumps_total",
			Help: "Total refill gaps exceeding the jump-detection threshold.",
		}),
		loopUsMin: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vita_streamer_loop_duration_us_min",
			Help: "Minimum observed stream loop iteration duration, in microseconds.",
		}),
		loopUsMax: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vita_streamer_loop_duration_us_max",
			Help: "Maximum observed stream loop iteration duration, in microseconds.",
		}),
		loopUsAvg: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vita_streamer_loop_duration_us_avg",
			Help: "Average stream loop iteration duration, in microseconds.",
		}),
		activeSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vita_streamer_active_subscribers",
			Help: "Current number of active Data-stream subscribers.",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vita_streamer_cpu_percent",
			Help: "Total CPU utilization percentage sampled from the host.",
		}),
	}
}

// counterAdd advances a monotonic Prometheus counter to match a cumulative
// total, since streamer.Stats already tracks cumulative counts rather than
// deltas.
func counterAdd(c prometheus.Counter, total uint64, last *uint64) {
	if total > *last {
		c.Add(float64(total - *last))
		*last = total
	}
}

// lastValues tracks the previous cumulative counter readings so Update can
// translate streamer.Stats' running totals into counter deltas.
type lastValues struct {
	packetsSent, bytesSent, contextsSent, reconfigs, sendFailures uint64
	underflows, overflows, refillFailures, timestampJumps         uint64
}

// Reporter periodically pulls a streamer.Stats snapshot and a
// subscriber.Registry count into the registered collectors.
type Reporter struct {
	metrics *Metrics
	last    lastValues
}

// NewReporter constructs a Reporter bound to m.
func NewReporter(m *Metrics) *Reporter {
	return &Reporter{metrics: m}
}

// Update folds one Stats/Registry snapshot into the collectors.
func (r *Reporter) Update(st streamer.Snapshot, activeSubscribers int) {
	m := r.metrics
	counterAdd(m.packetsSent, st.PacketsSent, &r.last.packetsSent)
	counterAdd(m.bytesSent, st.BytesSent, &r.last.bytesSent)
	counterAdd(m.contextsSent, st.ContextsSent, &r.last.contextsSent)
	counterAdd(m.reconfigs, st.Reconfigs, &r.last.reconfigs)
	counterAdd(m.sendFailures, st.SendFailures, &r.last.sendFailures)
	counterAdd(m.underflows, st.Underflows, &r.last.underflows)
	counterAdd(m.overflows, st.Overflows, &r.last.overflows)
	counterAdd(m.refillFailures, st.RefillFailures, &r.last.refillFailures)
	counterAdd(m.timestampJumps, st.TimestampJumps, &r.last.timestampJumps)

	m.loopUsMin.Set(float64(st.MinLoopUs))
	m.loopUsMax.Set(float64(st.MaxLoopUs))
	if st.LoopIterations > 0 {
		m.loopUsAvg.Set(float64(st.TotalLoopUs) / float64(st.LoopIterations))
	}

	m.activeSubscribers.Set(float64(activeSubscribers))
}

// UpdateCPU samples host CPU utilization via gopsutil and records it. Errors
// are swallowed; CPU telemetry is additive and never worth failing over.
func (r *Reporter) UpdateCPU() {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	r.metrics.cpuPercent.Set(percents[0])
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

package streamer

import (
	"context"
	"fmt"
	"time"

	"github.com/n5dr/vita-streamer/internal/subscriber"
)

// TelemetryInterval is how often the supervisor prints a stats line
// (spec.md §4.7).
const TelemetryInterval = 5 * time.Second

// Supervisor owns process lifetime: it starts the control and stream
// workers, prints periodic telemetry, and maps the stream worker's outcome
// onto the process exit code (spec.md §4.7, §6).
type Supervisor struct {
	Control *ControlWorker
	Stream  *StreamWorker
	Reg     *subscriber.Registry
	Stats   *Stats
	Logf    func(format string, args ...any)

	// CPUPercent, if set, is folded into the telemetry line (spec.md's
	// additive CPU-load telemetry). Returning an error omits the field.
	CPUPercent func() (float64, error)

	interval time.Duration
}

// Run blocks until ctx is cancelled or the stream worker reports a fatal
// error. It returns the process exit code: 0 for a clean shutdown, 2 for a
// fatal stream-worker error.
func (sup *Supervisor) Run(ctx context.Context) int {
	logf := sup.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	interval := sup.interval
	if interval == 0 {
		interval = TelemetryInterval
	}

	streamErr := make(chan error, 1)
	go func() { streamErr <- sup.Stream.Run(ctx.Done()) }()
	go sup.Control.Run(ctx.Done())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			logf("supervisor: shutdown signal received")
			sup.printTelemetry(logf, healthy)
			return 0
		case err := <-streamErr:
			if err != nil {
				healthy = false
				logf("supervisor: stream worker fatal error: %v", err)
				sup.printTelemetry(logf, healthy)
				return 2
			}
			return 0
		case <-ticker.C:
			sup.printTelemetry(logf, healthy)
		}
	}
}

// printTelemetry prints the spec.md §4.7 statistics line. healthy reflects
// whether a fatal driver error has been recorded; it is purely observational
// and never gates the process.
func (sup *Supervisor) printTelemetry(logf func(string, ...any), healthy bool) {
	st := sup.Stats.Snapshot()
	active := sup.Reg.ActiveCount()

	avgLoopUs := float64(0)
	if st.LoopIterations > 0 {
		avgLoopUs = float64(st.TotalLoopUs) / float64(st.LoopIterations)
	}

	cpuSuffix := ""
	if sup.CPUPercent != nil {
		if pct, err := sup.CPUPercent(); err == nil {
			cpuSuffix = fmt.Sprintf(" cpu=%.1f%%", pct)
		}
	}

	logf("telemetry: healthy=%t subscribers=%d packets=%d bytes=%d contexts=%d reconfigs=%d "+
		"underflows=%d overflows=%d refill_failures=%d timestamp_jumps=%d loop_us(min/avg/max)=%d/%.0f/%d%s",
		healthy, active, st.PacketsSent, st.BytesSent, st.ContextsSent, st.Reconfigs,
		st.Underflows, st.Overflows, st.RefillFailures, st.TimestampJumps,
		st.MinLoopUs, avgLoopUs, st.MaxLoopUs, cpuSuffix)

	for _, e := range sup.Reg.Snapshot() {
		if !e.Active {
			continue
		}
		logf("telemetry: subscriber=%s packets=%d bytes=%d consecutive_failures=%d total_failures=%d",
			e.Addr, e.PacketsSent, e.BytesSent, e.ConsecutiveFailures, e.TotalFailures)
	}
}

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/n5dr/vita-streamer/internal/streamer"
)

func TestReporterTranslatesCumulativeCountersIntoDeltas(t *testing.T) {
	m := NewMetrics()
	r := NewReporter(m)

	r.Update(streamer.Snapshot{PacketsSent: 10, BytesSent: 640}, 2)
	require.InDelta(t, 10, testutil.ToFloat64(m.packetsSent), 0.001)
	require.InDelta(t, 2, testutil.ToFloat64(m.activeSubscribers), 0.001)

	r.Update(streamer.Snapshot{PacketsSent: 25, BytesSent: 1600}, 3)
	require.InDelta(t, 25, testutil.ToFloat64(m.packetsSent), 0.001)
	require.InDelta(t, 3, testutil.ToFloat64(m.activeSubscribers), 0.001)
}

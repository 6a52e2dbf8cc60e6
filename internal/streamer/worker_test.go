package streamer

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n5dr/vita-streamer/internal/radioconfig"
	"github.com/n5dr/vita-streamer/internal/sdrfacade"
	"github.com/n5dr/vita-streamer/internal/subscriber"
	"github.com/n5dr/vita-streamer/internal/vita"
)

const testMTU = 1500

func loopbackConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func baseTestSnapshot() radioconfig.Snapshot {
	return radioconfig.Snapshot{
		CenterFrequencyHz: 100_000_000,
		SampleRateHz:      2_000_000,
		BandwidthHz:       1_600_000,
		GainDB:            20,
	}
}

func newTestWorker(t *testing.T, facade *sdrfacade.SyntheticFacade, snap radioconfig.Snapshot) (*StreamWorker, *radioconfig.Store, *subscriber.Registry) {
	t.Helper()
	cfg := radioconfig.New(snap)
	reg := subscriber.New(nil)
	conn := loopbackConn(t)
	stats := &Stats{}

	require.NoError(t, facade.Open())
	require.NoError(t, facade.Configure(sdrfacade.Params{
		CenterFrequencyHz: snap.CenterFrequencyHz,
		SampleRateHz:      snap.SampleRateHz,
		BandwidthHz:       snap.BandwidthHz,
		GainDB:            snap.GainDB,
	}))
	require.NoError(t, facade.NewBuffer(BufferSamplesFor(snap.SampleRateHz)))

	w, err := NewStreamWorker(facade, cfg, reg, conn, stats, 0x01000000, testMTU, snap, nil)
	require.NoError(t, err)
	return w, cfg, reg
}

func makeSamples(n int) []vita.Sample {
	out := make([]vita.Sample, n)
	for i := range out {
		out[i] = vita.Sample{I: int16(i), Q: int16(-i)}
	}
	return out
}

func TestStepSendsDataPacketsToActiveSubscriber(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	w, _, reg := newTestWorker(t, facade, snap)

	sub := loopbackConn(t)
	addr := subscriber.AddrPortFromUDP(sub.LocalAddr().(*net.UDPAddr))
	_, err := reg.Register(addr)
	require.NoError(t, err)

	require.NoError(t, w.step())
	require.Greater(t, w.Stats.Snapshot().PacketsSent, uint64(0))

	sub.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, _, err := sub.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestReconfigureSuccessRecreatesBufferAndEmitsContext(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	w, cfg, reg := newTestWorker(t, facade, snap)

	sub := loopbackConn(t)
	addr := subscriber.AddrPortFromUDP(sub.LocalAddr().(*net.UDPAddr))
	_, err := reg.Register(addr)
	require.NoError(t, err)

	newRate := uint32(4_000_000)
	newBW := uint32(3_000_000)
	cfg.Apply(radioconfig.Fields{SampleRateHz: &newRate, BandwidthHz: &newBW})
	require.True(t, cfg.Dirty())

	w.lastConfigPoll = time.Time{} // force the poll to fire on the next step
	require.NoError(t, w.step())

	require.False(t, cfg.Dirty())
	require.Equal(t, StateStreaming, w.State())
	require.Equal(t, uint64(1), w.Stats.Snapshot().Reconfigs)
	require.Equal(t, newRate, w.currentParams.SampleRateHz)

	sub.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, _, err := sub.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestReconfigureFailureRestoresOldBufferAndStaysStreaming(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	w, cfg, _ := newTestWorker(t, facade, snap)

	facade.FailConfigureAlways = true

	bad := uint32(5_000_000)
	cfg.Apply(radioconfig.Fields{SampleRateHz: &bad})
	require.True(t, cfg.Dirty())

	w.lastConfigPoll = time.Time{}
	require.NoError(t, w.step())

	require.Equal(t, StateStreaming, w.State())
	require.Equal(t, snap.SampleRateHz, w.currentParams.SampleRateHz, "params must not change on a failed reconfigure")
	require.Equal(t, uint64(0), w.Stats.Snapshot().Reconfigs)
	require.False(t, cfg.Dirty(), "dirty is cleared even on a recovered failure so the loop does not spin retrying")
}

func TestHealthCheckFlagsUnderflowOnLateRefill(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	w, _, _ := newTestWorker(t, facade, snap)

	w.Stats.SetLastRefillTimestampUs(1_000_000)
	w.now = func() time.Time { return time.UnixMicro(1_050_000) } // 50ms elapsed, samples only account for 10ms
	w.healthCheck(20_000)                                         // 10ms of samples at 2 MSPS

	snapStats := w.Stats.Snapshot()
	require.Equal(t, uint64(1), snapStats.TimestampJumps)
	require.Equal(t, uint64(1), snapStats.Underflows)
	require.Equal(t, uint64(0), snapStats.Overflows)
}

func TestHealthCheckFlagsOverflowOnEarlyRefill(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	w, _, _ := newTestWorker(t, facade, snap)

	w.Stats.SetLastRefillTimestampUs(1_000_000)
	w.now = func() time.Time { return time.UnixMicro(1_001_000) } // 1ms elapsed, 29ms earlier than the 30ms expected
	w.healthCheck(60_000)                                         // 30ms of samples at 2 MSPS

	snapStats := w.Stats.Snapshot()
	require.Equal(t, uint64(1), snapStats.TimestampJumps)
	require.Equal(t, uint64(0), snapStats.Underflows)
	require.Equal(t, uint64(1), snapStats.Overflows)
}

// failingSender always reports a send failure, regardless of the
// subscriber address it is asked to deliver to.
type failingSender struct{}

func (failingSender) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	return 0, errors.New("failing sender: send refused")
}

func TestSendFailuresPropagateToStats(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	cfg := radioconfig.New(snap)
	reg := subscriber.New(nil)
	stats := &Stats{}

	require.NoError(t, facade.Open())
	require.NoError(t, facade.Configure(sdrfacade.Params{
		CenterFrequencyHz: snap.CenterFrequencyHz,
		SampleRateHz:      snap.SampleRateHz,
		BandwidthHz:       snap.BandwidthHz,
		GainDB:            snap.GainDB,
	}))
	require.NoError(t, facade.NewBuffer(BufferSamplesFor(snap.SampleRateHz)))

	w, err := NewStreamWorker(facade, cfg, reg, failingSender{}, stats, 0x01000000, testMTU, snap, nil)
	require.NoError(t, err)

	_, err = reg.Register(netip.MustParseAddrPort("127.0.0.1:9"))
	require.NoError(t, err)

	w.packetizeAndFanout(makeSamples(w.samplesPerPacket))

	require.Equal(t, uint64(1), w.Stats.Snapshot().SendFailures)
}

func TestPeriodicContextAndCompactionFireOnCadence(t *testing.T) {
	facade := sdrfacade.NewSynthetic(10_000)
	snap := baseTestSnapshot()
	w, _, reg := newTestWorker(t, facade, snap)

	sub := loopbackConn(t)
	addr := subscriber.AddrPortFromUDP(sub.LocalAddr().(*net.UDPAddr))
	_, err := reg.Register(addr)
	require.NoError(t, err)

	for i := 0; i < ContextInterval+5; i++ {
		w.packetizeAndFanout(makeSamples(w.samplesPerPacket))
	}

	st := w.Stats.Snapshot()
	require.GreaterOrEqual(t, st.ContextsSent, uint64(1))
	require.Equal(t, uint64(ContextInterval+5), st.PacketsSent)
	require.Equal(t, 5, w.packetsSinceCompact, "compaction counter must reset after CompactionInterval packets")
}

package streamer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n5dr/vita-streamer/internal/radioconfig"
	"github.com/n5dr/vita-streamer/internal/subscriber"
	"github.com/n5dr/vita-streamer/internal/vita"
)

func TestControlWorkerAppliesValidContextAndRegistersSubscriber(t *testing.T) {
	conn := loopbackConn(t)
	cfg := radioconfig.New(baseTestSnapshot())
	reg := subscriber.New(nil)

	stop := make(chan struct{})
	w := &ControlWorker{Conn: conn, Cfg: cfg, Reg: reg, DataPort: 9999}
	go w.Run(stop)
	t.Cleanup(func() { close(stop) })

	client, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	newFreq := uint64(145_500_000)
	buf := make([]byte, 64)
	n, err := vita.EncodeContext(buf, vita.DefaultStreamID, time.Now(), 0, vita.ContextFields{
		HasRFFrequency: true,
		RFFrequencyHz:  newFreq,
	})
	require.NoError(t, err)
	_, err = client.Write(buf[:n])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return cfg.Snapshot().CenterFrequencyHz == newFreq
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return reg.ActiveCount() == 1
	}, time.Second, 10*time.Millisecond)

	entries := reg.Snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, uint16(9999), entries[0].Addr.Port())
}

func TestControlWorkerRejectsOutOfRangeRequest(t *testing.T) {
	conn := loopbackConn(t)
	cfg := radioconfig.New(baseTestSnapshot())
	reg := subscriber.New(nil)

	stop := make(chan struct{})
	w := &ControlWorker{Conn: conn, Cfg: cfg, Reg: reg, DataPort: 9999}
	go w.Run(stop)
	t.Cleanup(func() { close(stop) })

	client, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	buf := make([]byte, 64)
	n, err := vita.EncodeContext(buf, vita.DefaultStreamID, time.Now(), 0, vita.ContextFields{
		HasRFFrequency: true,
		RFFrequencyHz:  radioconfig.MaxFrequencyHz + 1,
	})
	require.NoError(t, err)
	_, err = client.Write(buf[:n])
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, baseTestSnapshot().CenterFrequencyHz, cfg.Snapshot().CenterFrequencyHz)
}

func TestControlWorkerDiscardsMalformedPacket(t *testing.T) {
	conn := loopbackConn(t)
	cfg := radioconfig.New(baseTestSnapshot())
	reg := subscriber.New(nil)

	stop := make(chan struct{})
	w := &ControlWorker{Conn: conn, Cfg: cfg, Reg: reg, DataPort: 9999}
	go w.Run(stop)
	t.Cleanup(func() { close(stop) })

	client, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte{0x00, 0x01, 0x02})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, reg.ActiveCount())
}

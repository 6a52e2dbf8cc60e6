package streamer

import (
	"net"
	"net/netip"
	"time"

	"github.com/n5dr/vita-streamer/internal/radioconfig"
	"github.com/n5dr/vita-streamer/internal/subscriber"
	"github.com/n5dr/vita-streamer/internal/vita"
)

// maxControlDatagram bounds the read buffer for incoming Context packets.
// The largest packet this codec ever encodes (bandwidth + frequency + gain
// + sample rate + state/event) is well under 64 bytes; this headroom also
// tolerates a sender that pads its datagram.
const maxControlDatagram = 2048

// ControlReadTimeout bounds each blocking read so the worker can observe
// shutdown promptly (spec.md §4.5).
const ControlReadTimeout = 1 * time.Second

// ControlWorker listens on the control socket for Context packets carrying
// configuration requests, and registers the sender as a Data-stream
// subscriber (spec.md §4.5).
type ControlWorker struct {
	Conn     *net.UDPConn
	Cfg      *radioconfig.Store
	Reg      *subscriber.Registry
	DataPort int
	Logf     func(format string, args ...any)
}

// Run blocks, handling one datagram at a time, until stop is closed.
func (w *ControlWorker) Run(stop <-chan struct{}) {
	logf := w.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	buf := make([]byte, maxControlDatagram)
	for {
		select {
		case <-stop:
			return
		default:
		}

		w.Conn.SetReadDeadline(time.Now().Add(ControlReadTimeout))
		n, addr, err := w.Conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logf("control: read error: %v", err)
			continue
		}

		pkt, err := vita.DecodeContext(buf[:n])
		if err != nil {
			logf("control: discarding malformed packet from %s: %v", addr, err)
			continue
		}

		fields := fieldsFromContext(pkt.Fields)

		current := w.Cfg.Snapshot()
		if err := radioconfig.Validate(fields, current); err != nil {
			logf("control: rejecting out-of-bounds config from %s: %v", addr, err)
			continue
		}
		w.Cfg.Apply(fields)

		subAddr := subscriberAddr(addr, w.DataPort)
		if _, err := w.Reg.Register(subAddr); err != nil {
			logf("control: %v (source %s)", err, addr)
		}
	}
}

// fieldsFromContext maps the subset of a decoded Context packet's fields
// that this streamer accepts as configuration requests onto a partial
// radioconfig update. Fields the packet didn't carry stay nil, per Fields'
// partial-update semantics.
func fieldsFromContext(f vita.ContextFields) radioconfig.Fields {
	var out radioconfig.Fields
	if f.HasRFFrequency {
		v := f.RFFrequencyHz
		out.CenterFrequencyHz = &v
	}
	if f.HasSampleRate {
		v := uint32(f.SampleRateHz)
		out.SampleRateHz = &v
	}
	if f.HasBandwidth {
		v := uint32(f.BandwidthHz)
		out.BandwidthHz = &v
	}
	if f.HasGain {
		v := f.GainStage1DB
		out.GainDB = &v
	}
	return out
}

// subscriberAddr builds the registry key for a control-packet sender: its
// source IP, but the well-known data port rather than whatever ephemeral
// port it sent the control packet from.
func subscriberAddr(src *net.UDPAddr, dataPort int) netip.AddrPort {
	ip, _ := netip.AddrFromSlice(src.IP.To4())
	return netip.AddrPortFrom(ip, uint16(dataPort))
}

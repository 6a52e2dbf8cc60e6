// Package streamer wires internal/vita, internal/packetizer,
// internal/subscriber, internal/sdrfacade, and internal/radioconfig into the
// two worker loops described in spec.md §4.5/§4.6: the control worker that
// ingests Context packets and registers subscribers, and the stream worker
// that owns the reconfiguration state machine and the refill/packetize/
// fanout loop.
package streamer

import (
	"fmt"
	"time"

	"github.com/n5dr/vita-streamer/internal/packetizer"
	"github.com/n5dr/vita-streamer/internal/radioconfig"
	"github.com/n5dr/vita-streamer/internal/sdrfacade"
	"github.com/n5dr/vita-streamer/internal/subscriber"
	"github.com/n5dr/vita-streamer/internal/vita"
)

// State is the stream worker's reconfiguration state (spec.md §4.6).
type State int

const (
	StateInit State = iota
	StateStreaming
	StateReconfiguring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateReconfiguring:
		return "reconfiguring"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// ConfigPollInterval is how often the stream worker checks the
	// configuration store's dirty flag (spec.md §4.6 step 1).
	ConfigPollInterval = 100 * time.Millisecond

	// ContextInterval is the number of Data packets emitted between
	// periodic Context packets (spec.md §4.6 step 4).
	ContextInterval = 100

	// CompactionInterval is the number of Data packets emitted between
	// subscriber registry compaction passes (spec.md §4.6 step 6).
	CompactionInterval = 100

	// RefillRetryDelay throttles the loop after a transient refill
	// failure so it doesn't spin a CPU core.
	RefillRetryDelay = time.Millisecond

	// BufferPeriod is how much wall-clock time one sample buffer holds. It
	// equals ConfigPollInterval, so at real-time rates about one refill
	// completes per config poll.
	BufferPeriod = 100 * time.Millisecond
)

// StreamWorker owns the reconfiguration state machine and the refill,
// health-check, packetize, and fanout loop (spec.md §4.6).
type StreamWorker struct {
	Facade sdrfacade.Facade
	Cfg    *radioconfig.Store
	Reg    *subscriber.Registry
	Conn   subscriber.Sender
	Stats  *Stats

	StreamID uint32
	Logf     func(format string, args ...any)

	mtu              int
	samplesPerPacket int
	dataBuf          []byte
	contextBuf       []byte

	sampleBuf     []vita.Sample
	currentParams radioconfig.Snapshot

	state          State
	packetCount    uint8
	lastConfigPoll time.Time

	packetsSinceContext int
	packetsSinceCompact int

	now func() time.Time
}

// NewStreamWorker constructs a StreamWorker. initial is the already-applied
// snapshot the facade was opened and configured with; the worker assumes
// Facade.Configure(initial) and Facade.NewBuffer have already succeeded.
func NewStreamWorker(facade sdrfacade.Facade, cfg *radioconfig.Store, reg *subscriber.Registry, conn subscriber.Sender, stats *Stats, streamID uint32, mtu int, initial radioconfig.Snapshot, logf func(string, ...any)) (*StreamWorker, error) {
	samplesPerPacket, err := packetizer.SamplesPerPacket(mtu)
	if err != nil {
		return nil, err
	}
	maxPacketBytes, err := packetizer.MaxPacketBytes(mtu)
	if err != nil {
		return nil, err
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	w := &StreamWorker{
		Facade:           facade,
		Cfg:              cfg,
		Reg:              reg,
		Conn:             conn,
		Stats:            stats,
		StreamID:         streamID,
		Logf:             logf,
		mtu:              mtu,
		samplesPerPacket: samplesPerPacket,
		dataBuf:          make([]byte, maxPacketBytes),
		currentParams:    initial,
		state:            StateInit,
		now:              time.Now,
	}

	fullFields := w.contextFields(initial)
	w.contextBuf = make([]byte, vita.EncodedContextLen(fullFields))
	w.sampleBuf = make([]vita.Sample, BufferSamplesFor(initial.SampleRateHz))

	return w, nil
}

// State returns the worker's current reconfiguration state.
func (w *StreamWorker) State() State { return w.state }

// BufferSamplesFor returns the sample-buffer size, in (I,Q) pairs, that
// holds BufferPeriod worth of samples at the given sample rate.
func BufferSamplesFor(sampleRateHz uint32) int {
	n := int(uint64(sampleRateHz) * uint64(BufferPeriod/time.Microsecond) / 1_000_000)
	if n < 1 {
		n = 1
	}
	return n
}

// Run drives the loop until stop is closed or a fatal error occurs. A nil
// return means a clean shutdown; a non-nil return is always a fatal driver
// error (exit code 2 per spec.md §6).
func (w *StreamWorker) Run(stop <-chan struct{}) error {
	w.state = StateStreaming
	for {
		select {
		case <-stop:
			w.state = StateStopped
			return nil
		default:
		}
		if err := w.step(); err != nil {
			w.state = StateStopped
			return err
		}
	}
}

// step runs one iteration of the 7-step loop (spec.md §4.6). It is
// unexported; this package's tests call it directly when they need
// fine-grained control instead of Run's free-spinning loop.
func (w *StreamWorker) step() error {
	start := w.now()
	defer func() {
		elapsed := w.now().Sub(start)
		w.Stats.RecordLoopIteration(uint64(elapsed.Microseconds()))
	}()

	if start.Sub(w.lastConfigPoll) >= ConfigPollInterval {
		w.lastConfigPoll = start
		if snap, dirty := w.Cfg.SnapshotIfDirty(); dirty {
			if err := w.reconfigure(snap); err != nil {
				return err
			}
		}
	}

	n, err := w.Facade.Refill(w.sampleBuf)
	if err != nil {
		w.Stats.IncRefillFailures()
		time.Sleep(RefillRetryDelay)
		return nil
	}

	w.healthCheck(n)
	w.packetizeAndFanout(w.sampleBuf[:n])

	return nil
}

// reconfigure implements the state machine transition on a dirty
// configuration (spec.md §4.6 step 1 / failure semantics table).
func (w *StreamWorker) reconfigure(snap radioconfig.Snapshot) error {
	w.state = StateReconfiguring
	_ = w.Facade.DestroyBuffer()

	newParams := sdrfacade.Params{
		CenterFrequencyHz: snap.CenterFrequencyHz,
		SampleRateHz:      snap.SampleRateHz,
		BandwidthHz:       snap.BandwidthHz,
		GainDB:            snap.GainDB,
		ManualGain:        true,
	}

	if err := w.Facade.Configure(newParams); err != nil {
		w.Logf("stream: reconfigure failed, restoring previous buffer: %v", err)
		if berr := w.Facade.NewBuffer(BufferSamplesFor(w.currentParams.SampleRateHz)); berr != nil {
			return fmt.Errorf("cannot recreate buffer after failed reconfigure: %w", berr)
		}
		w.sampleBuf = make([]vita.Sample, BufferSamplesFor(w.currentParams.SampleRateHz))
		w.Cfg.ClearDirty()
		w.state = StateStreaming
		return nil
	}

	if err := w.Facade.EnableChannels(); err != nil {
		return fmt.Errorf("cannot enable channels after reconfigure: %w", err)
	}

	newBufSamples := BufferSamplesFor(snap.SampleRateHz)
	if err := w.Facade.NewBuffer(newBufSamples); err != nil {
		return fmt.Errorf("cannot recreate buffer at new rate: %w", err)
	}

	w.sampleBuf = make([]vita.Sample, newBufSamples)
	w.currentParams = snap
	w.Cfg.ClearDirty()
	w.Stats.IncReconfigs()

	w.emitContext(snap)
	w.packetsSinceContext = 0

	w.state = StateStreaming
	return nil
}

// healthCheck implements spec.md §4.6 step 3: compares the wall-clock gap
// between successive refills against the time the refilled samples should
// have taken to arrive, at the currently-applied sample rate.
func (w *StreamWorker) healthCheck(n int) {
	now := uint64(w.now().UnixMicro())
	last := w.Stats.LastRefillTimestampUs()
	w.Stats.SetLastRefillTimestampUs(now)
	if last == 0 || w.currentParams.SampleRateHz == 0 {
		return
	}

	expected := uint64(n) * 1_000_000 / uint64(w.currentParams.SampleRateHz)
	actual := now - last
	delta := int64(actual) - int64(expected)

	const jumpThresholdUs = 10_000
	if delta > jumpThresholdUs || delta < -jumpThresholdUs {
		w.Stats.IncTimestampJumps()
		if delta > 0 {
			w.Stats.IncUnderflows()
		} else {
			w.Stats.IncOverflows()
		}
	}
}

// contextFields builds the full field set this worker always reports: the
// four tuning parameters plus the cumulative health bits (spec.md §4.1).
func (w *StreamWorker) contextFields(snap radioconfig.Snapshot) vita.ContextFields {
	st := w.Stats.Snapshot()
	return vita.ContextFields{
		HasBandwidth:   true,
		BandwidthHz:    uint64(snap.BandwidthHz),
		HasRFFrequency: true,
		RFFrequencyHz:  snap.CenterFrequencyHz,
		HasGain:        true,
		GainStage1DB:   snap.GainDB,
		HasSampleRate:  true,
		SampleRateHz:   uint64(snap.SampleRateHz),
		HasStateEvent:  true,
		CalibratedTime: true,
		OverRange:      st.Overflows > 0,
		SampleLoss:     st.Underflows > 0,
	}
}

func (w *StreamWorker) emitContext(snap radioconfig.Snapshot) {
	f := w.contextFields(snap)
	n, err := vita.EncodeContext(w.contextBuf, w.StreamID, w.now(), w.packetCount, f)
	if err != nil {
		w.Logf("stream: encode context packet failed: %v", err)
		return
	}
	failures := w.Reg.Broadcast(w.Conn, w.contextBuf[:n])
	w.Stats.AddSendFailures(uint64(failures))
	w.Stats.IncContextsSent()
}

// packetizeAndFanout implements spec.md §4.6 steps 4-6: slice the refilled
// samples into MTU-sized Data packets, interleaving periodic Context
// packets and registry compaction on their own packet-count cadences.
func (w *StreamWorker) packetizeAndFanout(samples []vita.Sample) {
	for len(samples) > 0 {
		chunkN := w.samplesPerPacket
		if chunkN > len(samples) {
			chunkN = len(samples)
		}
		chunk := samples[:chunkN]
		samples = samples[chunkN:]

		n, err := vita.EncodeData(w.dataBuf, w.StreamID, w.now(), w.packetCount, chunk)
		if err != nil {
			w.Logf("stream: encode data packet failed: %v", err)
			continue
		}
		failures := w.Reg.Broadcast(w.Conn, w.dataBuf[:n])
		w.Stats.AddSendFailures(uint64(failures))
		w.Stats.AddPacketsSent(1)
		w.Stats.AddBytesSent(uint64(n))
		w.packetCount = (w.packetCount + 1) & 0xF

		w.packetsSinceContext++
		w.packetsSinceCompact++

		if w.packetsSinceContext >= ContextInterval {
			w.emitContext(w.currentParams)
			w.packetsSinceContext = 0
		}
		if w.packetsSinceCompact >= CompactionInterval {
			w.Reg.Compact()
			w.packetsSinceCompact = 0
		}
	}
}

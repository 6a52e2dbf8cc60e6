package vita

import (
	"encoding/binary"
	"time"
)

// CIF (Context Indicator Field) bits this codec understands, and the bits
// are named in the strictly-descending order fields must appear on the
// wire whenever more than one is asserted.
const (
	cifBandwidth    = 1 << 29
	cifRFFrequency  = 1 << 27
	cifGain         = 1 << 23
	cifSampleRate   = 1 << 21
	cifStateEvent   = 1 << 19
	cifKnownBitMask = cifBandwidth | cifRFFrequency | cifGain | cifSampleRate | cifStateEvent
)

// State/Event Indicators bits (within the 32-bit indicators word itself,
// not to be confused with the CIF bit that announces the word's presence).
const (
	seCalibratedTimeBit = 1 << 31
	seOverRangeBit      = 1 << 19
	seSampleLossBit     = 1 << 18
)

// Per-field wire sizes, used both to size the packet and to bounds-check
// decode.
const (
	fieldBandwidthBytes   = 8
	fieldRFFrequencyBytes = 8
	fieldGainBytes        = 4 // two 16-bit Q7 stages
	fieldSampleRateBytes  = 8
	fieldStateEventBytes  = 4
)

// ContextFields is the decoded (or to-be-encoded) content of a Context
// packet. A zero-value field is only written to / read from the wire when
// its companion Has* flag is set.
type ContextFields struct {
	HasBandwidth bool
	BandwidthHz  uint64

	HasRFFrequency bool
	RFFrequencyHz  uint64

	HasGain      bool
	GainStage1DB float64
	GainStage2DB float64 // zero unless a second gain stage is in use

	HasSampleRate bool
	SampleRateHz  uint64

	HasStateEvent   bool
	CalibratedTime  bool
	OverRange       bool
	SampleLoss      bool
}

// ContextPacket is the decoded form of a VITA 49.0 Context packet.
type ContextPacket struct {
	StreamID    uint32
	Timestamp   time.Time
	PacketCount uint8
	Fields      ContextFields
}

func (f ContextFields) cifMask() uint32 {
	var mask uint32
	if f.HasBandwidth {
		mask |= cifBandwidth
	}
	if f.HasRFFrequency {
		mask |= cifRFFrequency
	}
	if f.HasGain {
		mask |= cifGain
	}
	if f.HasSampleRate {
		mask |= cifSampleRate
	}
	if f.HasStateEvent {
		mask |= cifStateEvent
	}
	return mask
}

func (f ContextFields) wireLen() int {
	n := 0
	if f.HasBandwidth {
		n += fieldBandwidthBytes
	}
	if f.HasRFFrequency {
		n += fieldRFFrequencyBytes
	}
	if f.HasGain {
		n += fieldGainBytes
	}
	if f.HasSampleRate {
		n += fieldSampleRateBytes
	}
	if f.HasStateEvent {
		n += fieldStateEventBytes
	}
	return n
}

// EncodedContextLen returns the exact wire size, in bytes, of a Context
// packet carrying the given fields.
func EncodedContextLen(f ContextFields) int {
	return commonPrefixBytes + cifBytes + f.wireLen()
}

// EncodeContext writes a Context packet into buf and returns the number of
// bytes written. Fields are emitted in strict descending CIF-bit order
// (bandwidth, RF frequency, gain, sample rate, state/event), regardless of
// the order they're set in ContextFields.
func EncodeContext(buf []byte, streamID uint32, ts time.Time, packetCount uint8, f ContextFields) (int, error) {
	need := EncodedContextLen(f)
	if len(buf) < need {
		return 0, malformed("context packet needs %d bytes, buffer has %d", need, len(buf))
	}

	sec, fracPs := encodeTimestamp(ts)
	h := header{
		packetType:  PacketTypeContext,
		tsi:         tsiUTC,
		tsf:         tsfPicoseconds,
		packetCount: packetCount & 0xF,
		wordCount:   uint16(need / 4),
		streamID:    streamID,
		timeSec:     sec,
		timeFracPs:  fracPs,
	}
	writeCommonPrefix(buf, h)
	binary.BigEndian.PutUint32(buf[commonPrefixBytes:commonPrefixBytes+cifBytes], f.cifMask())

	off := commonPrefixBytes + cifBytes

	if f.HasBandwidth {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(q20Encode(f.BandwidthHz)))
		off += 8
	}
	if f.HasRFFrequency {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(q20Encode(f.RFFrequencyHz)))
		off += 8
	}
	if f.HasGain {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(q7Encode(f.GainStage1DB)))
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(q7Encode(f.GainStage2DB)))
		off += 4
	}
	if f.HasSampleRate {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(q20Encode(f.SampleRateHz)))
		off += 8
	}
	if f.HasStateEvent {
		var word uint32
		if f.CalibratedTime {
			word |= seCalibratedTimeBit
		}
		if f.OverRange {
			word |= seOverRangeBit
		}
		if f.SampleLoss {
			word |= seSampleLossBit
		}
		binary.BigEndian.PutUint32(buf[off:off+4], word)
		off += 4
	}

	return need, nil
}

// DecodeContext parses a Context packet from buf, walking the CIF from the
// highest asserted bit to the lowest. A CIF bit this codec does not
// recognize cannot be safely skipped (its length is unknown), so its
// presence is treated as a malformed packet rather than silently ignored.
func DecodeContext(buf []byte) (ContextPacket, error) {
	h, err := readCommonPrefix(buf)
	if err != nil {
		return ContextPacket{}, err
	}
	if h.packetType != PacketTypeContext {
		return ContextPacket{}, malformed("expected Context packet type 0x4, got 0x%x", h.packetType)
	}
	if int(h.wordCount)*4 != len(buf) {
		return ContextPacket{}, malformed("declared word count (%d words = %d bytes) disagrees with buffer length %d", h.wordCount, int(h.wordCount)*4, len(buf))
	}
	if len(buf) < commonPrefixBytes+cifBytes {
		return ContextPacket{}, malformed("buffer too short for CIF")
	}

	mask := binary.BigEndian.Uint32(buf[commonPrefixBytes : commonPrefixBytes+cifBytes])
	if mask&^uint32(cifKnownBitMask) != 0 {
		return ContextPacket{}, malformed("CIF asserts unrecognized bit(s) 0x%08x", mask&^uint32(cifKnownBitMask))
	}

	var f ContextFields
	off := commonPrefixBytes + cifBytes

	need := func(n int) error {
		if off+n > len(buf) {
			return malformed("CIF field runs off end of buffer at offset %d (need %d more bytes)", off, n)
		}
		return nil
	}

	// Strict descending bit order: 29, 27, 23, 21, 19.
	if mask&cifBandwidth != 0 {
		if err := need(8); err != nil {
			return ContextPacket{}, err
		}
		f.HasBandwidth = true
		f.BandwidthHz = q20Decode(int64(binary.BigEndian.Uint64(buf[off : off+8])))
		off += 8
	}
	if mask&cifRFFrequency != 0 {
		if err := need(8); err != nil {
			return ContextPacket{}, err
		}
		f.HasRFFrequency = true
		f.RFFrequencyHz = q20Decode(int64(binary.BigEndian.Uint64(buf[off : off+8])))
		off += 8
	}
	if mask&cifGain != 0 {
		if err := need(4); err != nil {
			return ContextPacket{}, err
		}
		f.HasGain = true
		f.GainStage1DB = q7Decode(int16(binary.BigEndian.Uint16(buf[off : off+2])))
		f.GainStage2DB = q7Decode(int16(binary.BigEndian.Uint16(buf[off+2 : off+4])))
		off += 4
	}
	if mask&cifSampleRate != 0 {
		if err := need(8); err != nil {
			return ContextPacket{}, err
		}
		f.HasSampleRate = true
		f.SampleRateHz = q20Decode(int64(binary.BigEndian.Uint64(buf[off : off+8])))
		off += 8
	}
	if mask&cifStateEvent != 0 {
		if err := need(4); err != nil {
			return ContextPacket{}, err
		}
		word := binary.BigEndian.Uint32(buf[off : off+4])
		f.HasStateEvent = true
		f.CalibratedTime = word&seCalibratedTimeBit != 0
		f.OverRange = word&seOverRangeBit != 0
		f.SampleLoss = word&seSampleLossBit != 0
		off += 4
	}

	return ContextPacket{
		StreamID:    h.streamID,
		Timestamp:   decodeTimestamp(h.timeSec, h.timeFracPs),
		PacketCount: h.packetCount,
		Fields:      f,
	}, nil
}

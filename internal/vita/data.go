package vita

import (
	"encoding/binary"
	"time"
)

// Sample is one (I, Q) pair. The SDR driver produces samples in its own
// native order; only the codec's encode path converts to the wire's
// big-endian representation.
type Sample struct {
	I int16
	Q int16
}

// State/Event Indicators bits used in the Data packet trailer. Per spec.md
// §9's resolved open question, the Data packet trailer only ever carries
// ValidData on this streamer; health bits (underflow/overflow) are reported
// exclusively via Context packets.
const trailerValidDataBit = 1 << 19 // before EncodeData's <<12 shift; bit 31 of the trailer word on the wire

// DataPacket is the decoded form of a VITA 49.0 Signal Data packet.
type DataPacket struct {
	StreamID    uint32
	Timestamp   time.Time
	PacketCount uint8
	Payload     []Sample
}

// EncodedDataLen returns the exact wire size, in bytes, of a Data packet
// carrying n samples. Callers use this to size and bounds-check the
// reusable scratch buffer before encoding.
func EncodedDataLen(n int) int {
	return commonPrefixBytes + padTo4(n*4) + trailerBytes
}

// EncodeData writes a Signal Data packet into buf and returns the number of
// bytes written. It fails (without writing anything usable) rather than
// truncating if buf is too small for the requested payload.
func EncodeData(buf []byte, streamID uint32, ts time.Time, packetCount uint8, samples []Sample) (int, error) {
	need := EncodedDataLen(len(samples))
	if len(buf) < need {
		return 0, malformed("data packet needs %d bytes, buffer has %d", need, len(buf))
	}

	sec, fracPs := encodeTimestamp(ts)
	h := header{
		packetType:     PacketTypeSignalData,
		trailerPresent: true,
		tsi:            tsiUTC,
		tsf:            tsfPicoseconds,
		packetCount:    packetCount & 0xF,
		wordCount:      uint16(need / 4),
		streamID:       streamID,
		timeSec:        sec,
		timeFracPs:     fracPs,
	}
	writeCommonPrefix(buf, h)

	off := commonPrefixBytes
	for _, s := range samples {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(s.I))
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(s.Q))
		off += 4
	}
	// Zero-pad to the next 32-bit boundary (a no-op for this codec since
	// every sample is 4 bytes, but kept explicit per the wire format rule).
	payloadEnd := commonPrefixBytes + padTo4(len(samples)*4)
	for i := off; i < payloadEnd; i++ {
		buf[i] = 0
	}

	trailer := uint32(trailerValidDataBit) << 12 // validity-bits half-word sits in the high bits of the trailer word
	binary.BigEndian.PutUint32(buf[payloadEnd:payloadEnd+4], trailer)

	return need, nil
}

// DecodeData parses a Signal Data packet from buf.
func DecodeData(buf []byte) (DataPacket, error) {
	h, err := readCommonPrefix(buf)
	if err != nil {
		return DataPacket{}, err
	}
	if h.packetType != PacketTypeSignalData {
		return DataPacket{}, malformed("expected Signal Data packet type 0x1, got 0x%x", h.packetType)
	}
	if int(h.wordCount)*4 != len(buf) {
		return DataPacket{}, malformed("declared word count (%d words = %d bytes) disagrees with buffer length %d", h.wordCount, int(h.wordCount)*4, len(buf))
	}

	trailerLen := 0
	if h.trailerPresent {
		trailerLen = trailerBytes
	}
	payloadBytes := len(buf) - commonPrefixBytes - trailerLen
	if payloadBytes < 0 || payloadBytes%4 != 0 {
		return DataPacket{}, malformed("invalid payload length %d", payloadBytes)
	}

	n := payloadBytes / 4
	samples := make([]Sample, n)
	off := commonPrefixBytes
	for i := 0; i < n; i++ {
		samples[i] = Sample{
			I: int16(binary.BigEndian.Uint16(buf[off : off+2])),
			Q: int16(binary.BigEndian.Uint16(buf[off+2 : off+4])),
		}
		off += 4
	}

	return DataPacket{
		StreamID:    h.streamID,
		Timestamp:   decodeTimestamp(h.timeSec, h.timeFracPs),
		PacketCount: h.packetCount,
		Payload:     samples,
	}, nil
}

func encodeTimestamp(t time.Time) (sec uint32, fracPs uint64) {
	sec = uint32(t.Unix())
	fracPs = uint64(t.Nanosecond()) * 1000
	return sec, fracPs
}

func decodeTimestamp(sec uint32, fracPs uint64) time.Time {
	return time.Unix(int64(sec), int64(fracPs/1000)).UTC()
}

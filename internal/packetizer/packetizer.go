// Package packetizer maps a link MTU to the number of samples that fit in
// one VITA 49.0 Signal Data packet, preserving 32-bit alignment. It is pure
// and stateless.
package packetizer

import "fmt"

// Wire overhead constants from the VITA 49.0 codec (internal/vita) and the
// IP/UDP headers that carry it.
const (
	IPHeaderBytes  = 20
	UDPHeaderBytes = 8
	VITAOverhead   = 24 // common header + stream id + timestamp + trailer

	DefaultMTU = 1500
	JumboMTU   = 9000
	MinMTU     = 576
)

// SamplesPerPacket returns the maximum number of (I,Q) samples that fit in
// one Data packet on a link with the given MTU, rounded down to an even
// count so the payload stays a multiple of 8 bytes.
func SamplesPerPacket(mtu int) (int, error) {
	if mtu < MinMTU {
		return 0, fmt.Errorf("packetizer: MTU %d is below the minimum of %d", mtu, MinMTU)
	}

	usable := mtu - IPHeaderBytes - UDPHeaderBytes - VITAOverhead
	if usable < 4 {
		return 0, fmt.Errorf("packetizer: MTU %d leaves no room for sample payload", mtu)
	}

	n := usable / 4
	if n%2 != 0 {
		n--
	}
	return n, nil
}

// MaxPacketBytes returns the wire size, in bytes, of a full Data packet at
// the given MTU (VITA_OVERHEAD + SamplesPerPacket(mtu)*4).
func MaxPacketBytes(mtu int) (int, error) {
	n, err := SamplesPerPacket(mtu)
	if err != nil {
		return 0, err
	}
	return VITAOverhead + n*4, nil
}

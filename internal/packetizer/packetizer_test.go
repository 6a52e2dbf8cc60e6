package packetizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSamplesPerPacketKnownMTUs(t *testing.T) {
	cases := map[int]int{
		576:  (576 - 20 - 8 - 24) / 4,
		1492: (1492 - 20 - 8 - 24) / 4,
		1500: (1500 - 20 - 8 - 24) / 4,
		9000: (9000-20-8-24)/4 - (((9000 - 20 - 8 - 24) / 4) % 2),
	}

	for mtu, want := range cases {
		if want%2 != 0 {
			want--
		}
		got, err := SamplesPerPacket(mtu)
		require.NoError(t, err)
		require.Equal(t, want, got, "mtu=%d", mtu)
		require.Zero(t, got%2, "samples per packet must be even")
	}
}

func TestPacketizerAlignmentInvariant(t *testing.T) {
	for mtu := MinMTU; mtu <= JumboMTU; mtu += 37 {
		n, err := SamplesPerPacket(mtu)
		require.NoError(t, err)
		require.Zero(t, n%2)
		require.LessOrEqual(t, n*4+VITAOverhead, mtu-IPHeaderBytes-UDPHeaderBytes)
	}
}

func TestSamplesPerPacketRejectsSmallMTU(t *testing.T) {
	_, err := SamplesPerPacket(MinMTU - 1)
	require.Error(t, err)
}

func TestMaxPacketBytesWithinMTUBound(t *testing.T) {
	for _, mtu := range []int{576, 1492, 1500, 9000} {
		n, err := MaxPacketBytes(mtu)
		require.NoError(t, err)
		require.LessOrEqual(t, n, mtu-IPHeaderBytes-UDPHeaderBytes)
		require.Zero(t, n%4)
	}
}

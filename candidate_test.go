// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCandidatesFamilyMatchingAndFilter(t *testing.T) {
	srcV4 := netip.MustParseAddr("192.0.2.10")
	srcV6 := netip.MustParseAddr("2001:db8::10")
	dstV4 := netip.MustParseAddr("192.0.2.1")
	dstV6 := netip.MustParseAddr("2001:db8::1")

	t.Run("unfiltered pairs same-family src/dst only", func(t *testing.T) {
		cands := buildCandidates(
			[]netip.Addr{srcV4, srcV6},
			[]netip.Addr{dstV4, dstV6},
			443,
			[]Protocol{ProtocolTCP},
			FamilyUnspecified,
		)
		require.Len(t, cands, 2)
		for _, c := range cands {
			assert.Equal(t, familyOf(c.SrcAddr.Addr()), c.Family)
		}
	})

	t.Run("family filter keeps only matching destinations", func(t *testing.T) {
		filtered := buildCandidates(
			[]netip.Addr{srcV4, srcV6},
			[]netip.Addr{dstV4, dstV6},
			443,
			[]Protocol{ProtocolTCP},
			FamilyV4,
		)
		require.Len(t, filtered, 1)
		assert.Equal(t, FamilyV4, filtered[0].Family)
	})
}

func TestBuildCandidatesMultipleProtocolsAndDedup(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("192.0.2.1")

	cands := buildCandidates([]netip.Addr{src}, []netip.Addr{dst}, 80, []Protocol{ProtocolTCP, ProtocolUDP}, FamilyUnspecified)
	require.Len(t, cands, 2, "one candidate per protocol")

	dup := dedupeCandidates(append(cands, cands...))
	assert.Len(t, dup, 2, "dedupeCandidates should collapse exact (protocol, dst, src) repeats")
}

func TestCandidateSockType(t *testing.T) {
	assert.Equal(t, SockStream, SockTypeForProtocol(ProtocolTCP))
	assert.Equal(t, SockStream, SockTypeForProtocol(ProtocolSCTP))
	assert.Equal(t, SockDgram, SockTypeForProtocol(ProtocolUDP))
	assert.Equal(t, SockDgram, SockTypeForProtocol(ProtocolUDPLite))
}

package corenet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeSyncOffsetFromFourTimestamps(t *testing.T) {
	probe := NewTimeProbe(1000)
	reply := Respond(probe, 1010, 1020) // peer stamps rec=1010, xmt=1020
	dst := int64(1005)                  // our receive time of the reply

	offset := Offset(reply, dst)
	// offset = ((rec-org)+(xmt-dst))/2 = ((1010-1000)+(1020-1005))/2 = (10+15)/2 = 12
	require.Equal(t, int64(12), offset)
}

func TestRoundTripSubtractsPeerProcessingTime(t *testing.T) {
	reply := &TimeMessage{Org: 1000, Rec: 1010, Xmt: 1015}
	dst := int64(1030)
	// delay = (dst-org) - (xmt-rec) = 30 - 5 = 25
	require.Equal(t, int64(25), RoundTrip(reply, dst))
}

func TestWithinUncertainty(t *testing.T) {
	require.True(t, WithinUncertainty(100, 150, 100))
	require.False(t, WithinUncertainty(100, 250, 100))
}

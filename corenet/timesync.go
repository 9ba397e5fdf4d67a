package corenet

// Time-sync exchange (spec.md §4.4): a four-timestamp org/rec/xmt/dst
// handshake, adapted from the teacher's AtomicTimestamp offset/uncertainty
// arithmetic (core/atomic/clock_sync.go's DurationBetween/WithinUncertainty)
// down to the plain nanosecond epoch values the wire format carries.

// NewTimeProbe builds the outbound half of a probe: Org is our send time,
// Rec/Xmt/Dst are zero until the peer responds.
func NewTimeProbe(nowNs int64) *TimeMessage {
	return &TimeMessage{Org: nowNs}
}

// Respond builds the reply to a received probe. req.Org (the remote's send
// time) is echoed back as the reply's Org; recNs is our receive time and
// xmtNs is our send time for the reply.
func Respond(req *TimeMessage, recNs, xmtNs int64) *TimeMessage {
	return &TimeMessage{
		Org: req.Org,
		Rec: recNs,
		Xmt: xmtNs,
	}
}

// Offset computes the clock offset of the remote peer relative to us, in
// nanoseconds, from a completed exchange: reply.Org/Rec/Xmt as sent by the
// peer, and dstNs as our local receive time of the reply (spec.md §4.4):
//
//	offset = ((Rec - Org) + (Xmt - Dst)) / 2
//
// A positive offset means the peer's clock runs ahead of ours.
func Offset(reply *TimeMessage, dstNs int64) int64 {
	return ((reply.Rec - reply.Org) + (reply.Xmt - dstNs)) / 2
}

// RoundTrip computes the total round-trip delay of a completed exchange,
// with the peer's processing time ((Xmt - Rec)) subtracted out:
//
//	delay = (Dst - Org) - (Xmt - Rec)
func RoundTrip(reply *TimeMessage, dstNs int64) int64 {
	return (dstNs - reply.Org) - (reply.Xmt - reply.Rec)
}

// WithinUncertainty reports whether two independently computed offsets
// (e.g. from successive probes to the same peer) agree within boundNs,
// the caller's configured clock-skew tolerance. Mirrors the teacher's
// AtomicTimestamp.WithinUncertainty comparison, generalized from a pair of
// absolute timestamps to a pair of already-computed offsets.
func WithinUncertainty(offsetA, offsetB, boundNs int64) bool {
	diff := offsetA - offsetB
	if diff < 0 {
		diff = -diff
	}
	return diff <= boundNs
}

package corenet

import (
	"encoding/binary"
	"fmt"

	"github.com/corechain/corenet/common"
)

// DefaultFrameCap is the default maximum frame length in bytes (spec.md §4.1).
const DefaultFrameCap = 16 * 1024 * 1024

// Codec encodes and decodes frames: [u32 length][tag u8][payload]. Length is
// the byte count of tag+payload. The zero value uses DefaultFrameCap.
type Codec struct {
	FrameCap uint32
}

func (c *Codec) cap() uint32 {
	if c.FrameCap == 0 {
		return DefaultFrameCap
	}
	return c.FrameCap
}

// Encode serializes msg into a full frame, including the length prefix.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	body, err := encodeBody(msg)
	if err != nil {
		return nil, err
	}
	if uint32(len(body)) > c.cap() {
		return nil, &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: encoded frame %d bytes exceeds cap %d", len(body), c.cap())}
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// DecodeFrame decodes a single frame body (tag+payload, length prefix
// already stripped and validated by the caller). This split lets the
// connection read loop apply the frame cap before allocating the body.
func (c *Codec) DecodeFrame(body []byte) (*Message, error) {
	if len(body) < 1 {
		return nil, &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: empty frame")}
	}
	tag := MsgTag(body[0])
	if tag > maxTag {
		return nil, &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: unknown tag %d", tag)}
	}
	return decodeBody(tag, body[1:])
}

// ValidateFrameLength enforces the frame cap on a length prefix read off the
// wire, before the body is read.
func (c *Codec) ValidateFrameLength(length uint32) error {
	if length > c.cap() {
		return &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: frame length %d exceeds cap %d", length, c.cap())}
	}
	return nil
}

// --- encoding helpers -------------------------------------------------

type byteWriter struct{ b []byte }

func (w *byteWriter) u8(v uint8)   { w.b = append(w.b, v) }
func (w *byteWriter) u16(v uint16) { var t [2]byte; binary.LittleEndian.PutUint16(t[:], v); w.b = append(w.b, t[:]...) }
func (w *byteWriter) u32(v uint32) { var t [4]byte; binary.LittleEndian.PutUint32(t[:], v); w.b = append(w.b, t[:]...) }
func (w *byteWriter) i16(v int16)  { w.u16(uint16(v)) }
func (w *byteWriter) i64(v int64)  { var t [8]byte; binary.LittleEndian.PutUint64(t[:], uint64(v)); w.b = append(w.b, t[:]...) }
func (w *byteWriter) hash(h common.Hash) { w.b = append(w.b, h[:]...) }
func (w *byteWriter) pubkey(k common.PubKey) { w.b = append(w.b, k[:]...) }
func (w *byteWriter) sig(s common.Signature) { w.b = append(w.b, s[:]...) }
func (w *byteWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.b = append(w.b, b...)
}

func (w *byteWriter) str(s string, max int) error {
	if len(s) > max {
		return &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: string length %d exceeds bound %d", len(s), max)}
	}
	w.u16(uint16(len(s)))
	w.b = append(w.b, s...)
	return nil
}

func (w *byteWriter) selectIDs(s SelectIDs) {
	w.u8(uint8(s.Mode))
	w.u32(s.Pending)
	w.u32(uint32(len(s.IDs)))
	for _, id := range s.IDs {
		w.hash(id)
	}
}

func (w *byteWriter) endpoints(addrs []string) error {
	w.u32(uint32(len(addrs)))
	for _, addr := range addrs {
		if err := w.str(addr, MaxP2PAddressLength); err != nil {
			return err
		}
	}
	return nil
}

type byteReader struct {
	b   []byte
	off int
	err error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.b) {
		r.err = fmt.Errorf("corenet: short read: need %d bytes, have %d", n, len(r.b)-r.off)
		return false
	}
	return true
}

func (r *byteReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *byteReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *byteReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *byteReader) i16() int16 { return int16(r.u16()) }

func (r *byteReader) i64() int64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return int64(v)
}

func (r *byteReader) hash() (h common.Hash) {
	if !r.need(common.HashLength) {
		return h
	}
	copy(h[:], r.b[r.off:])
	r.off += common.HashLength
	return h
}

func (r *byteReader) pubkey() (k common.PubKey) {
	if !r.need(common.PubKeyLength) {
		return k
	}
	copy(k[:], r.b[r.off:])
	r.off += common.PubKeyLength
	return k
}

func (r *byteReader) sig() (s common.Signature) {
	if !r.need(common.SignatureLength) {
		return s
	}
	copy(s[:], r.b[r.off:])
	r.off += common.SignatureLength
	return s
}

func (r *byteReader) bytesField() []byte {
	n := r.u32()
	if !r.need(int(n)) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.b[r.off:r.off+int(n)])
	r.off += int(n)
	return v
}

func (r *byteReader) str(max int) string {
	n := int(r.u16())
	if n > max {
		r.err = fmt.Errorf("corenet: string length %d exceeds bound %d", n, max)
		return ""
	}
	if !r.need(n) {
		return ""
	}
	s := string(r.b[r.off : r.off+n])
	r.off += n
	return s
}

// MaxNoticeEndpoints bounds how many endpoints a single Notice may carry,
// independent of the frame cap, so a hostile peer can't force a large
// allocation with a tiny frame (spec.md §4.1's general framing discipline).
const MaxNoticeEndpoints = 256

func (r *byteReader) endpoints() []string {
	n := r.u32()
	if n > MaxNoticeEndpoints {
		r.err = fmt.Errorf("corenet: notice endpoint count %d exceeds bound %d", n, MaxNoticeEndpoints)
		return nil
	}
	if n == 0 {
		return nil
	}
	addrs := make([]string, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		addrs = append(addrs, r.str(MaxP2PAddressLength))
	}
	return addrs
}

func (r *byteReader) selectIDs() SelectIDs {
	mode := SelectMode(r.u8())
	pending := r.u32()
	n := r.u32()
	if n == 0 {
		return SelectIDs{Mode: mode, Pending: pending}
	}
	ids := make([]common.Hash, 0, minInt(int(n), 1<<16))
	for i := uint32(0); i < n && r.err == nil; i++ {
		ids = append(ids, r.hash())
	}
	return SelectIDs{Mode: mode, Pending: pending, IDs: ids}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- per-variant encode/decode -----------------------------------------

func encodeBody(msg *Message) ([]byte, error) {
	w := &byteWriter{b: []byte{uint8(msg.Tag)}}
	switch msg.Tag {
	case TagHandshake:
		h := msg.Handshake
		w.u16(h.NetworkVersion)
		w.hash(h.ChainID)
		w.hash(h.NodeID)
		w.pubkey(h.PubKey)
		w.i64(h.Timestamp)
		w.hash(h.Token)
		w.sig(h.Signature)
		if err := w.str(h.P2PAddress, MaxP2PAddressLength); err != nil {
			return nil, err
		}
		w.u32(h.LastIrreversibleNum)
		w.hash(h.LastIrreversibleID)
		w.u32(h.HeadNum)
		w.hash(h.HeadID)
		if err := w.str(h.OS, MaxHandshakeStrLength); err != nil {
			return nil, err
		}
		if err := w.str(h.Agent, MaxHandshakeStrLength); err != nil {
			return nil, err
		}
		w.i16(h.Generation)
	case TagChainSize:
		c := msg.ChainSize
		w.u32(c.LastIrreversibleNum)
		w.hash(c.LastIrreversibleID)
		w.u32(c.HeadNum)
		w.hash(c.HeadID)
	case TagGoAway:
		g := msg.GoAway
		w.u8(uint8(g.Reason))
		w.hash(g.NodeID)
	case TagTime:
		t := msg.Time
		w.i64(t.Org)
		w.i64(t.Rec)
		w.i64(t.Xmt)
		w.i64(t.Dst)
	case TagNotice:
		n := msg.Notice
		w.selectIDs(n.KnownTrx)
		w.selectIDs(n.KnownBlocks)
		if err := w.endpoints(n.Endpoints); err != nil {
			return nil, err
		}
	case TagRequest:
		req := msg.Request
		w.selectIDs(req.ReqTrx)
		w.selectIDs(req.ReqBlocks)
	case TagSyncRequest:
		s := msg.SyncRequest
		w.u32(s.StartBlock)
		w.u32(s.EndBlock)
	case TagSignedBlock:
		b := msg.SignedBlock
		w.hash(b.ID)
		w.u32(b.Number)
		w.bytes(b.Payload)
	case TagPackedTransaction:
		t := msg.PackedTransaction
		w.hash(t.ID)
		w.bytes(t.Payload)
	default:
		return nil, &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: unknown tag %d", msg.Tag)}
	}
	return w.b, nil
}

func decodeBody(tag MsgTag, body []byte) (*Message, error) {
	r := &byteReader{b: body}
	msg := &Message{Tag: tag}
	switch tag {
	case TagHandshake:
		h := &Handshake{}
		h.NetworkVersion = r.u16()
		h.ChainID = r.hash()
		h.NodeID = r.hash()
		h.PubKey = r.pubkey()
		h.Timestamp = r.i64()
		h.Token = r.hash()
		h.Signature = r.sig()
		h.P2PAddress = r.str(MaxP2PAddressLength)
		h.LastIrreversibleNum = r.u32()
		h.LastIrreversibleID = r.hash()
		h.HeadNum = r.u32()
		h.HeadID = r.hash()
		h.OS = r.str(MaxHandshakeStrLength)
		h.Agent = r.str(MaxHandshakeStrLength)
		h.Generation = r.i16()
		msg.Handshake = h
	case TagChainSize:
		c := &ChainSize{}
		c.LastIrreversibleNum = r.u32()
		c.LastIrreversibleID = r.hash()
		c.HeadNum = r.u32()
		c.HeadID = r.hash()
		msg.ChainSize = c
	case TagGoAway:
		g := &GoAway{}
		g.Reason = GoAwayReason(r.u8())
		g.NodeID = r.hash()
		msg.GoAway = g
	case TagTime:
		t := &TimeMessage{}
		t.Org = r.i64()
		t.Rec = r.i64()
		t.Xmt = r.i64()
		t.Dst = r.i64()
		msg.Time = t
	case TagNotice:
		n := &Notice{}
		n.KnownTrx = r.selectIDs()
		n.KnownBlocks = r.selectIDs()
		n.Endpoints = r.endpoints()
		msg.Notice = n
	case TagRequest:
		req := &Request{}
		req.ReqTrx = r.selectIDs()
		req.ReqBlocks = r.selectIDs()
		msg.Request = req
	case TagSyncRequest:
		s := &SyncRequest{}
		s.StartBlock = r.u32()
		s.EndBlock = r.u32()
		msg.SyncRequest = s
	case TagSignedBlock:
		b := &SignedBlock{}
		b.ID = r.hash()
		b.Number = r.u32()
		b.Payload = r.bytesField()
		msg.SignedBlock = b
	case TagPackedTransaction:
		t := &PackedTransaction{}
		t.ID = r.hash()
		t.Payload = r.bytesField()
		msg.PackedTransaction = t
	default:
		return nil, &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: unknown tag %d", tag)}
	}
	if r.err != nil {
		return nil, &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: r.err}
	}
	return msg, nil
}

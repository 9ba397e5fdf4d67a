// Package corenet implements the peer-to-peer networking core of a
// blockchain full node: message codec, connection lifecycle, gossip,
// block-range sync, and time synchronization. See SPEC_FULL.md.
package corenet

import "github.com/corechain/corenet/common"

// ProtocolVersion is the network_version this build of corenet advertises
// in its outbound Handshake.
const ProtocolVersion uint16 = 1

// MsgTag identifies a wire message variant. Values are fixed by wire order
// and MUST NOT be reordered — they are observable on the wire.
type MsgTag uint8

const (
	TagHandshake           MsgTag = 0
	TagChainSize           MsgTag = 1
	TagGoAway              MsgTag = 2
	TagTime                MsgTag = 3
	TagNotice              MsgTag = 4
	TagRequest             MsgTag = 5
	TagSyncRequest         MsgTag = 6
	TagSignedBlock         MsgTag = 7
	TagPackedTransaction   MsgTag = 8
)

// maxTag is the highest valid tag; anything past it is a protocol error.
const maxTag = TagPackedTransaction

// Bounded string lengths (spec.md §3, §4.1).
const (
	MaxP2PAddressLength    = 259
	MaxHandshakeStrLength  = 384
)

// Handshake is the first message exchanged on every connection (tag 0).
type Handshake struct {
	NetworkVersion       uint16
	ChainID              common.Hash
	NodeID               common.Hash
	PubKey               common.PubKey
	Timestamp            int64 // ns since epoch
	Token                common.Hash
	Signature            common.Signature
	P2PAddress           string
	LastIrreversibleNum  uint32
	LastIrreversibleID   common.Hash
	HeadNum              uint32
	HeadID               common.Hash
	OS                   string
	Agent                string
	Generation           int16
}

// ChainSize reports a node's LIB and head position (tag 1).
type ChainSize struct {
	LastIrreversibleNum uint32
	LastIrreversibleID  common.Hash
	HeadNum             uint32
	HeadID              common.Hash
}

// GoAwayReason enumerates the reasons a connection is terminated.
type GoAwayReason uint8

const (
	GoAwayNoReason GoAwayReason = iota
	GoAwaySelf
	GoAwayDuplicate
	GoAwayWrongChain
	GoAwayWrongVersion
	GoAwayForked
	GoAwayUnlinkable
	GoAwayBadTransaction
	GoAwayValidation
	GoAwayBenignOther
	GoAwayFatalOther
	GoAwayAuthentication
)

// String returns the exact human-readable reason text from spec.md §6.
func (r GoAwayReason) String() string {
	switch r {
	case GoAwayNoReason:
		return "no reason"
	case GoAwaySelf:
		return "self connect"
	case GoAwayDuplicate:
		return "duplicate"
	case GoAwayWrongChain:
		return "wrong chain"
	case GoAwayWrongVersion:
		return "wrong version"
	case GoAwayForked:
		return "chain is forked"
	case GoAwayUnlinkable:
		return "unlinkable block received"
	case GoAwayBadTransaction:
		return "bad transaction"
	case GoAwayValidation:
		return "invalid block"
	case GoAwayBenignOther:
		return "some other non-fatal condition, possibly unknown block"
	case GoAwayFatalOther:
		return "some other failure"
	case GoAwayAuthentication:
		return "authentication failure"
	default:
		return "some crazy reason"
	}
}

// GoAway is the terminal message stating the reason for disconnection (tag 2).
type GoAway struct {
	Reason GoAwayReason
	NodeID common.Hash
}

// TimeMessage carries the four timestamps of the NTP-style clock exchange
// (tag 3). Dst is filled in by the receiver, never the sender.
type TimeMessage struct {
	Org int64
	Rec int64
	Xmt int64
	Dst int64
}

// SelectMode is the id-list advertisement mode.
type SelectMode uint8

const (
	ModeNone SelectMode = iota
	ModeCatchUp
	ModeLastIrrCatchUp
	ModeNormal
)

// String returns the exact mode text from spec.md §6.
func (m SelectMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeCatchUp:
		return "catch up"
	case ModeLastIrrCatchUp:
		return "last irreversible"
	case ModeNormal:
		return "normal"
	default:
		return "undefined mode"
	}
}

// SelectIDs is the generic {mode, pending, ids} envelope used by Notice and
// Request for both transaction ids and block ids.
type SelectIDs struct {
	Mode    SelectMode
	Pending uint32
	IDs     []common.Hash
}

// Empty implements spec.md §3's invariant: empty() ⇔ mode=none ∨ ids=∅.
func (s SelectIDs) Empty() bool {
	return s.Mode == ModeNone || len(s.IDs) == 0
}

// Notice advertises ids the sender has, so the recipient doesn't re-send
// them, and/or verified peer endpoints the sender learned this round
// (tag 4; spec.md §4.2 write-loop step 3).
type Notice struct {
	KnownTrx    SelectIDs
	KnownBlocks SelectIDs
	Endpoints   []string
}

// Request asks for specific transactions/blocks (tag 5).
type Request struct {
	ReqTrx    SelectIDs
	ReqBlocks SelectIDs
}

// SyncRequest asks a peer to stream a contiguous, inclusive block range
// (tag 6).
type SyncRequest struct {
	StartBlock uint32
	EndBlock   uint32
}

// SignedBlock wraps an opaque, already-encoded block payload (tag 7). The
// payload's structure belongs to the external chain controller; corenet
// only frames, relays, and deduplicates it.
type SignedBlock struct {
	ID      common.Hash
	Number  uint32
	Payload []byte
}

// PackedTransaction wraps an opaque, already-encoded transaction payload
// (tag 8).
type PackedTransaction struct {
	ID      common.Hash
	Payload []byte
}

// Message is the tagged union of every wire variant. Exactly one of the
// typed fields is non-nil/non-zero, selected by Tag.
type Message struct {
	Tag MsgTag

	Handshake         *Handshake
	ChainSize         *ChainSize
	GoAway            *GoAway
	Time              *TimeMessage
	Notice            *Notice
	Request           *Request
	SyncRequest       *SyncRequest
	SignedBlock       *SignedBlock
	PackedTransaction *PackedTransaction
}

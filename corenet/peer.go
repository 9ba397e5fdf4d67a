package corenet

import (
	"sync"
	"time"

	"github.com/corechain/corenet/common"
)

// State is a connection's position in the lifecycle state machine
// (spec.md §4.2): connecting → handshaking → up, up ⇄ syncing, any → closing.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateUp
	StateSyncing
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateUp:
		return "up"
	case StateSyncing:
		return "syncing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Connection is the per-peer record described in spec.md §3. Its state and
// peer-learned fields are owned exclusively by that peer's read/write task
// pair; the Dispatcher holds only a weak handle (via Manager) and never
// mutates connection state directly (spec.md §9).
type Connection struct {
	mu sync.RWMutex

	RemoteEndpoint string
	state          State

	LastHandshake *Handshake
	handshakeAt   time.Time
	PeerNodeID    common.Hash
	PeerHeadNum   uint32
	PeerLIBNum    uint32
	PeerAddress   string
	ClockOffsetNs int64
	RTTNs         int64

	Known *KnowledgeSet

	outbound         chan *Message
	pendingSyncStart uint32
	pendingSyncEnd   uint32
	hasPendingSync   bool

	// probeOrg is not set or read anywhere: Session.onTime accepts any
	// Time reply without matching its Org against an outstanding probe.
	probeOrg int64

	generation int16

	createdAt time.Time
	clock     Clock
}

// NewConnection creates a Connection record in the StateConnecting state.
func NewConnection(remoteEndpoint string, knowledgeSetSize int, clock Clock) *Connection {
	if clock == nil {
		clock = RealClock
	}
	return &Connection{
		RemoteEndpoint: remoteEndpoint,
		state:          StateConnecting,
		Known:          NewKnowledgeSet(knowledgeSetSize),
		outbound:       make(chan *Message, 256),
		createdAt:      clock.Now(),
		clock:          clock,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// setState transitions the connection. Invariant enforced by callers: a
// connection in StateUp has a validated handshake whose ChainID matches ours
// and whose NetworkVersion is compatible (spec.md §3).
func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// MarkUp records a successful handshake and enters StateUp.
func (c *Connection) MarkUp(hs *Handshake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastHandshake = hs
	c.handshakeAt = c.clock.Now()
	c.PeerNodeID = hs.NodeID
	c.PeerHeadNum = hs.HeadNum
	c.PeerLIBNum = hs.LastIrreversibleNum
	c.PeerAddress = hs.P2PAddress
	c.state = StateUp
}

// UpdateHead updates the peer's advertised head/LIB position, e.g. from a
// ChainSize message or a new block announcement.
func (c *Connection) UpdateHead(headNum, libNum uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PeerHeadNum = headNum
	if libNum > c.PeerLIBNum {
		c.PeerLIBNum = libNum
	}
}

// SetClockOffset records the latest computed clock offset (ns).
func (c *Connection) SetClockOffset(offsetNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClockOffsetNs = offsetNs
}

// ClockOffset returns the last computed clock offset in nanoseconds.
func (c *Connection) ClockOffset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ClockOffsetNs
}

// SetRTT records the latest computed round-trip time (ns), from a completed
// time-sync exchange (spec.md §4.5's RTT tie-break for chunk assignment).
func (c *Connection) SetRTT(rttNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RTTNs = rttNs
}

// RTT returns the last computed round-trip time in nanoseconds.
func (c *Connection) RTT() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RTTNs
}

// SetPendingSync records the in-flight sync chunk assigned to this peer.
func (c *Connection) SetPendingSync(start, end uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSyncStart, c.pendingSyncEnd, c.hasPendingSync = start, end, true
}

// ClearPendingSync clears the in-flight sync chunk.
func (c *Connection) ClearPendingSync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasPendingSync = false
}

// PendingSync returns the in-flight sync chunk, if any.
func (c *Connection) PendingSync() (start, end uint32, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingSyncStart, c.pendingSyncEnd, c.hasPendingSync
}

// HandshakeTime returns the local time at which the peer's handshake was
// validated and the connection entered StateUp, or the zero Time if it
// never has.
func (c *Connection) HandshakeTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handshakeAt
}

// NextGeneration increments and returns the local handshake generation
// counter (SPEC_FULL.md §11, supplemented feature 1).
func (c *Connection) NextGeneration() int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation
}

// Enqueue places a message on the connection's outbound mailbox. It never
// blocks the caller beyond the channel's buffer; a full mailbox is the
// connection's hard backpressure signal (spec.md §5).
func (c *Connection) Enqueue(msg *Message) bool {
	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

// Outbound returns the connection's send mailbox, read by the write loop.
func (c *Connection) Outbound() <-chan *Message { return c.outbound }

// QueueLen reports the current outbound mailbox depth, used by the
// backpressure watermark checks in the write loop.
func (c *Connection) QueueLen() int { return len(c.outbound) }

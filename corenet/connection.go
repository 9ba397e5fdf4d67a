package corenet

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/corechain/corenet/common"
	"github.com/corechain/corenet/log"
)

// MTU is the nominal payload size used to decide when a block or
// transaction is relayed as a Notice instead of inline (spec.md §4.2,
// "3×MTU" threshold).
const MTU = 1500

// OversizeThreshold is 3×MTU: payloads above this are announced, not sent.
const OversizeThreshold = 3 * MTU

// DefaultKeepaliveInterval is how often a Time probe is issued to a
// connected peer (spec.md §4.2: "every few seconds and at handshake").
const DefaultKeepaliveInterval = 5 * time.Second

// DefaultInactivityTimeout closes a connection that produces no frame for
// this long (spec.md §5).
const DefaultInactivityTimeout = 30 * time.Second

// DefaultHighWatermark is the outbound mailbox depth above which the
// Gossip Engine switches from payload to Notice for this peer (spec.md §5).
const DefaultHighWatermark = 128

// DefaultHardCap is the outbound mailbox depth above which the connection
// is closed with GoAway(benign_other) (spec.md §5).
const DefaultHardCap = 256

// Transport is the minimal byte-stream seam a Connection's read/write loops
// run over. *net.TCPConn and net.Pipe() conns both satisfy it.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// Handshaker validates an inbound Handshake and identifies self-connects
// and duplicate node ids, per spec.md §4.2. It is implemented by Manager.
type Handshaker interface {
	OurNodeID() common.Hash
	OurChainID() common.Hash
	NetworkVersionCompatible(peerVersion uint16) bool
	HasLiveConnection(nodeID common.Hash) bool
	Verifier
}

// SyncNotifier is the Sync Controller seam a connection reports peer
// head/LIB changes and catch-up notices to (spec.md §4.2).
type SyncNotifier interface {
	OnPeerUp(c *Connection)
	OnPeerDown(c *Connection)
	OnNotice(c *Connection, n *Notice)
	OnSyncRequest(c *Connection, req *SyncRequest) // server side: stream blocks
	OnBlockReceived(c *Connection, blockNum uint32) // client side: chunk completion
	OnRTTUpdated(c *Connection, rttNs int64) // time-sync exchange completed
}

// Session drives one Connection's read and write loops. It is the runtime
// counterpart to the Connection record, grounded on the teacher's
// runProbePeer handshake-then-register lifecycle (handler.go) and
// probePeer's read/write pump pair (peer.go).
type Session struct {
	Conn    *Connection
	Codec   *Codec
	Chain   ChainController
	Sync    SyncNotifier
	Hands   Handshaker
	Signer  Signer
	Clock   Clock
	Log     log.Logger
	Limiter *rate.Limiter
	Disp    *Dispatcher
	Pool    *WorkerPool

	HighWatermark int
	HardCap       int
	Keepalive     time.Duration
	Inactivity    time.Duration

	lastFrame time.Time
	asyncErr  chan error
}

// NewSession constructs a Session with spec-default timing, ready to run
// over t once the handshake has been exchanged.
func NewSession(conn *Connection, t Transport, chain ChainController, sync SyncNotifier, hands Handshaker, signer Signer, clock Clock) *Session {
	if clock == nil {
		clock = RealClock
	}
	return &Session{
		Conn:          conn,
		Codec:         &Codec{},
		Chain:         chain,
		Sync:          sync,
		Hands:         hands,
		Signer:        signer,
		Clock:         clock,
		Log:           log.New("peer", conn.RemoteEndpoint),
		Limiter:       rate.NewLimiter(rate.Limit(DefaultHardCap), DefaultHardCap),
		HighWatermark: DefaultHighWatermark,
		HardCap:       DefaultHardCap,
		Keepalive:     DefaultKeepaliveInterval,
		Inactivity:    DefaultInactivityTimeout,
		asyncErr:      make(chan error, 1),
	}
}

// ReadLoop reads frames from t until ctx is cancelled, t errors, or the peer
// sends GoAway. Each decoded message is dispatched inline; CPU-bound
// validation (signature checks, block unpacking) is offloaded to the
// Session's WorkerPool, with its result delivered back through asyncErr
// (spec.md §5), so it never blocks this loop.
func (s *Session) ReadLoop(ctx context.Context, t Transport) error {
	lenBuf := make([]byte, 4)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := io.ReadFull(t, lenBuf); err != nil {
			return &Error{Kind: ErrIo, Err: err}
		}
		length := binary.LittleEndian.Uint32(lenBuf)
		if err := s.Codec.ValidateFrameLength(length); err != nil {
			s.sendGoAway(t, err)
			return err
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(t, body); err != nil {
			return &Error{Kind: ErrIo, Err: err}
		}
		s.lastFrame = s.Clock.Now()
		msg, err := s.Codec.DecodeFrame(body)
		if err != nil {
			s.sendGoAway(t, err)
			return err
		}
		if err := s.handle(msg); err != nil {
			s.sendGoAway(t, err)
			return err
		}
	}
}

// sendGoAway writes a best-effort GoAway frame for any corenet error that
// classifies to one (spec.md §4.2's "GoAway(reason)" transitions); a
// failure writing it is ignored since the connection is closing regardless.
func (s *Session) sendGoAway(t Transport, err error) {
	cerr, ok := err.(*Error)
	if !ok {
		return
	}
	reason, send := cerr.AsGoAway()
	if !send {
		return
	}
	_ = s.write(t, &Message{Tag: TagGoAway, GoAway: &GoAway{Reason: reason, NodeID: s.Hands.OurNodeID()}})
}

// WriteLoop drains the connection's mailbox to t, cooperatively yielding
// after every send, until ctx is cancelled or t errors (spec.md §4.2,
// §5 suspension points: socket write, mailbox receive).
func (s *Session) WriteLoop(ctx context.Context, t Transport) error {
	keepalive := time.NewTicker(s.Keepalive)
	defer keepalive.Stop()
	inactivity := time.NewTicker(s.Inactivity / 3)
	defer inactivity.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.asyncErr:
			// Result of an offloaded verification job, delivered back via
			// this mailbox loop rather than blocking the read loop
			// (spec.md §5: "the result is delivered back via mailbox").
			s.sendGoAway(t, err)
			return err
		case msg := <-s.Conn.Outbound():
			if s.Limiter != nil {
				if err := s.Limiter.Wait(ctx); err != nil {
					return &Error{Kind: ErrIo, Err: err}
				}
			}
			if err := s.write(t, msg); err != nil {
				return err
			}
		case <-keepalive.C:
			if _, overHard := s.QueueWatermark(); overHard {
				err := &Error{Kind: ErrBusy, Reason: GoAwayBenignOther,
					Err: fmt.Errorf("corenet: outbound queue exceeded hard cap (%d)", s.HardCap)}
				s.sendGoAway(t, err)
				return err
			}
			if s.Conn.State() == StateUp {
				probe := NewTimeProbe(s.Clock.Now().UnixNano())
				if err := s.write(t, &Message{Tag: TagTime, Time: probe}); err != nil {
					return err
				}
			}
		case <-inactivity.C:
			if !s.lastFrame.IsZero() && s.Clock.Now().Sub(s.lastFrame) > s.Inactivity {
				err := &Error{Kind: ErrTimeout, Reason: GoAwayBenignOther,
					Err: fmt.Errorf("corenet: no frame for %s", s.Inactivity)}
				s.sendGoAway(t, err)
				return err
			}
		}
	}
}

func (s *Session) write(t Transport, msg *Message) error {
	frame, err := s.Codec.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := t.Write(frame); err != nil {
		return &Error{Kind: ErrIo, Err: err}
	}
	return nil
}

// SendHandshake builds and enqueues our outbound Handshake for a new
// connection (spec.md §4.2: "On socket open ... send Handshake
// immediately").
func (s *Session) SendHandshake(token common.Hash) error {
	gen := s.Conn.NextGeneration()
	hs := &Handshake{
		NetworkVersion: ProtocolVersion,
		ChainID:        s.Hands.OurChainID(),
		NodeID:         s.Hands.OurNodeID(),
		PubKey:         s.Signer.PubKey(),
		Timestamp:      s.Clock.Now().UnixNano(),
		Token:          token,
		Generation:     gen,
	}
	sig, err := s.Signer.Sign(token.Bytes())
	if err != nil {
		return &Error{Kind: ErrIo, Err: err}
	}
	hs.Signature = sig
	if headNum, headID := s.Chain.Head(); true {
		hs.HeadNum, hs.HeadID = headNum, headID
	}
	if libNum, libID := s.Chain.LastIrreversible(); true {
		hs.LastIrreversibleNum, hs.LastIrreversibleID = libNum, libID
	}
	s.Conn.setState(StateHandshaking)
	s.Conn.Enqueue(&Message{Tag: TagHandshake, Handshake: hs})
	return nil
}

// handle dispatches one decoded message per the transition table in
// spec.md §4.2.
func (s *Session) handle(msg *Message) error {
	switch msg.Tag {
	case TagHandshake:
		return s.onHandshake(msg.Handshake)
	case TagChainSize:
		s.Conn.UpdateHead(msg.ChainSize.HeadNum, msg.ChainSize.LastIrreversibleNum)
		return nil
	case TagGoAway:
		s.Log.Info("peer closed", "reason", msg.GoAway.Reason)
		return &Error{Kind: ErrIo, Err: fmt.Errorf("corenet: peer GoAway: %s", msg.GoAway.Reason)}
	case TagTime:
		return s.onTime(msg.Time)
	case TagNotice:
		s.Sync.OnNotice(s.Conn, msg.Notice)
		if s.Disp != nil {
			for _, addr := range msg.Notice.Endpoints {
				s.Conn.Known.MarkEndpoint(addr)
				for _, c := range s.Disp.Gossip.RelayEndpoint(s.Conn, addr) {
					c.Enqueue(&Message{Tag: TagNotice, Notice: &Notice{Endpoints: []string{addr}}})
				}
			}
		}
		return nil
	case TagRequest:
		s.onRequest(msg.Request)
		return nil
	case TagSyncRequest:
		s.Sync.OnSyncRequest(s.Conn, msg.SyncRequest)
		return nil
	case TagSignedBlock:
		return s.onSignedBlock(msg.SignedBlock)
	case TagPackedTransaction:
		return s.onPackedTransaction(msg.PackedTransaction)
	default:
		return &Error{Kind: ErrProtocol, Reason: GoAwayFatalOther, Err: fmt.Errorf("corenet: unhandled tag %d", msg.Tag)}
	}
}

func (s *Session) onHandshake(hs *Handshake) error {
	if hs.ChainID != s.Hands.OurChainID() {
		return &Error{Kind: ErrHandshakeRejected, Reason: GoAwayWrongChain, Err: fmt.Errorf("corenet: chain id mismatch")}
	}
	if !s.Hands.NetworkVersionCompatible(hs.NetworkVersion) {
		return &Error{Kind: ErrHandshakeRejected, Reason: GoAwayWrongVersion, Err: fmt.Errorf("corenet: incompatible network version %d", hs.NetworkVersion)}
	}
	if hs.NodeID == s.Hands.OurNodeID() {
		return &Error{Kind: ErrHandshakeRejected, Reason: GoAwaySelf, Err: fmt.Errorf("corenet: self connection")}
	}
	if !s.Hands.Verify(hs.PubKey, hs.Token.Bytes(), hs.Signature) {
		return &Error{Kind: ErrHandshakeRejected, Reason: GoAwayAuthentication, Err: fmt.Errorf("corenet: signature verification failed")}
	}
	if s.Hands.HasLiveConnection(hs.NodeID) {
		return &Error{Kind: ErrHandshakeRejected, Reason: GoAwayDuplicate, Err: fmt.Errorf("corenet: duplicate node id %s", hs.NodeID.Short())}
	}
	s.Conn.MarkUp(hs)
	s.Sync.OnPeerUp(s.Conn)
	headNum, headID := s.Chain.Head()
	libNum, libID := s.Chain.LastIrreversible()
	s.Conn.Enqueue(&Message{Tag: TagChainSize, ChainSize: &ChainSize{
		LastIrreversibleNum: libNum,
		LastIrreversibleID:  libID,
		HeadNum:             headNum,
		HeadID:              headID,
	}})
	if s.Disp != nil && hs.P2PAddress != "" {
		for _, c := range s.Disp.Gossip.RelayEndpoint(s.Conn, hs.P2PAddress) {
			c.Enqueue(&Message{Tag: TagNotice, Notice: &Notice{Endpoints: []string{hs.P2PAddress}}})
		}
	}
	return nil
}

// onRequest serves an explicit Request for transactions/blocks we hold;
// unknown ids are silently skipped (spec.md §4.2 "On Request").
func (s *Session) onRequest(req *Request) {
	if s.Disp == nil {
		return
	}
	for _, id := range req.ReqTrx.IDs {
		if payload, ok := s.Disp.GetTransaction(id); ok {
			s.Conn.Enqueue(&Message{Tag: TagPackedTransaction, PackedTransaction: &PackedTransaction{ID: id, Payload: payload}})
		}
	}
	for _, id := range req.ReqBlocks.IDs {
		if number, payload, ok := s.Disp.GetBlock(id); ok {
			s.Conn.Enqueue(&Message{Tag: TagSignedBlock, SignedBlock: &SignedBlock{ID: id, Number: number, Payload: payload}})
		}
	}
}

func (s *Session) onTime(t *TimeMessage) error {
	dst := s.Clock.Now().UnixNano()
	if t.Rec == 0 && t.Xmt == 0 {
		// inbound probe: respond.
		reply := Respond(t, dst, s.Clock.Now().UnixNano())
		s.Conn.Enqueue(&Message{Tag: TagTime, Time: reply})
		return nil
	}
	// reply to our probe.
	s.Conn.SetClockOffset(Offset(t, dst))
	s.Conn.SetRTT(RoundTrip(t, dst))
	s.Sync.OnRTTUpdated(s.Conn, s.Conn.RTT())
	return nil
}

// onSignedBlock validates b. Validation is CPU-bound (signature checks,
// block unpacking belong to the chain controller) so when a WorkerPool is
// available it is offloaded there and the outcome is delivered back
// asynchronously via asyncErr rather than blocking the read loop (spec.md
// §5).
func (s *Session) onSignedBlock(b *SignedBlock) error {
	if s.Pool == nil {
		return s.finishSignedBlock(b, s.Chain.ValidateBlock(b.Payload))
	}
	result := s.Pool.Submit(func() error { return s.Chain.ValidateBlock(b.Payload) })
	go func() {
		if err := s.finishSignedBlock(b, <-result); err != nil {
			s.deliverAsync(err)
		}
	}()
	return nil
}

func (s *Session) finishSignedBlock(b *SignedBlock, err error) error {
	if err == nil {
		s.Conn.Known.MarkBlock(b.ID)
		s.Conn.UpdateHead(b.Number, 0)
		s.Sync.OnBlockReceived(s.Conn, b.Number)
		if s.Disp != nil {
			s.Disp.OnAcceptedBlock(b)
		}
		return nil
	}
	if IsUnlinkable(err) {
		return &Error{Kind: ErrHandshakeRejected, Reason: GoAwayUnlinkable, Err: err}
	}
	return &Error{Kind: ErrValidationFailed, Reason: GoAwayValidation, Err: err}
}

// onPackedTransaction mirrors onSignedBlock's offload discipline for
// mempool verification.
func (s *Session) onPackedTransaction(tx *PackedTransaction) error {
	s.Conn.Known.MarkTransaction(tx.ID)
	if s.Pool == nil {
		return s.finishPackedTransaction(tx, s.Chain.ValidateTransaction(tx.Payload))
	}
	result := s.Pool.Submit(func() error { return s.Chain.ValidateTransaction(tx.Payload) })
	go func() {
		if err := s.finishPackedTransaction(tx, <-result); err != nil {
			s.deliverAsync(err)
		}
	}()
	return nil
}

func (s *Session) finishPackedTransaction(tx *PackedTransaction, err error) error {
	if err != nil {
		return &Error{Kind: ErrValidationFailed, Reason: GoAwayBadTransaction, Err: err}
	}
	if s.Disp != nil {
		s.Disp.OnAcceptedTransaction(tx)
	}
	return nil
}

// deliverAsync hands an error from an offloaded verification job to the
// write loop, which owns session teardown; a full/closed mailbox drops the
// error rather than blocking the worker goroutine.
func (s *Session) deliverAsync(err error) {
	select {
	case s.asyncErr <- err:
	default:
	}
}

// QueueWatermark reports which backpressure band the connection's outbound
// mailbox currently sits in (spec.md §5).
func (s *Session) QueueWatermark() (overHigh, overHard bool) {
	n := s.Conn.QueueLen()
	return n >= s.HighWatermark, n >= s.HardCap
}

package corenet

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/status-im/keycard-go/hexutils"

	"github.com/corechain/corenet/common"
	"github.com/corechain/corenet/log"
)

// ConnectionStatus is the Administrative API's view of one connection
// (spec.md §6: "ConnectionStatus = { peer, connecting, syncing,
// last_handshake }").
type ConnectionStatus struct {
	Peer          string
	Connecting    bool
	Syncing       bool
	LastHandshake time.Time
}

// Manager owns the set of live connections, accepts inbound sockets,
// dials seed peers, and exposes the Administrative API (spec.md §6),
// grounded on the teacher's net_plugin equivalent: handler.go's peerSet
// plus the probePeer registration/teardown lifecycle.
type Manager struct {
	mu sync.RWMutex

	cfg      *Config
	clock    Clock
	chain    ChainController
	signer   Signer
	verifier Verifier
	ourNode  common.Hash

	conns map[string]*Connection // by RemoteEndpoint
	live  mapset.Set             // of common.Hash PeerNodeID, for duplicate detection

	gossip *Gossip
	disp   *Dispatcher
	sync   *Controller
	pool   *WorkerPool

	listener net.Listener
	cancel   context.CancelFunc
}

// NewManager constructs a Manager from cfg, ready to ListenAndServe.
func NewManager(cfg *Config, clock Clock) *Manager {
	if clock == nil {
		clock = RealClock
	}
	m := &Manager{
		cfg:   cfg,
		clock: clock,
		conns: make(map[string]*Connection),
		live:  mapset.NewSet(),
	}
	m.gossip = NewGossip()
	return m
}

// Bind wires in the chain controller, signer, and verifier collaborators;
// must be called before ListenAndServe.
func (m *Manager) Bind(chain ChainController, signer Signer, verifier Verifier, ourNode common.Hash) {
	m.chain = chain
	m.signer = signer
	m.verifier = verifier
	m.ourNode = ourNode
	m.disp = NewDispatcher(chain, m.gossip, m.cfg.DispatcherCacheMB*1024*1024)
	m.sync = NewController(chain, m.clock)
	if m.cfg.SyncChunkSize > 0 {
		m.sync.ChunkSize = m.cfg.SyncChunkSize
	}
	m.sync.OnSyncDone = m.broadcastChainSize
	m.pool = NewWorkerPool(m.cfg.WorkerPoolSize)
}

// --- Handshaker -----------------------------------------------------

func (m *Manager) OurNodeID() common.Hash { return m.ourNode }
func (m *Manager) OurChainID() common.Hash { return m.cfg.ChainID }

func (m *Manager) NetworkVersionCompatible(peerVersion uint16) bool {
	return peerVersion == ProtocolVersion
}

func (m *Manager) HasLiveConnection(nodeID common.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live.Contains(nodeID)
}

func (m *Manager) Verify(pubkey common.PubKey, message []byte, sig common.Signature) bool {
	return m.verifier.Verify(pubkey, message, sig)
}

// --- SyncNotifier -----------------------------------------------------

func (m *Manager) OnPeerUp(c *Connection) {
	m.mu.Lock()
	m.live.Add(c.PeerNodeID)
	m.mu.Unlock()
	m.gossip.AddPeer(c)
	m.sync.OnPeerUp(c)
	log.Root().Info("peer up", "node_id", hexutils.BytesToHex(c.PeerNodeID.Bytes())[:16], "endpoint", c.RemoteEndpoint)
}

func (m *Manager) OnPeerDown(c *Connection) {
	m.mu.Lock()
	m.live.Remove(c.PeerNodeID)
	delete(m.conns, c.RemoteEndpoint)
	m.mu.Unlock()
	m.gossip.RemovePeer(c.PeerNodeID)
	m.sync.OnPeerDown(c)
}

func (m *Manager) OnNotice(c *Connection, n *Notice) { m.sync.OnNotice(c, n) }

func (m *Manager) OnBlockReceived(c *Connection, blockNum uint32) { m.sync.OnBlockReceived(c, blockNum) }

func (m *Manager) OnRTTUpdated(c *Connection, rttNs int64) { m.sync.OnRTTUpdated(c, rttNs) }

func (m *Manager) OnSyncRequest(c *Connection, req *SyncRequest) {
	for num := req.StartBlock; num <= req.EndBlock; num++ {
		payload, id, ok := m.chain.BlockByNumber(num)
		if !ok {
			c.Enqueue(&Message{Tag: TagGoAway, GoAway: &GoAway{Reason: GoAwayBenignOther, NodeID: m.ourNode}})
			return
		}
		c.Enqueue(&Message{Tag: TagSignedBlock, SignedBlock: &SignedBlock{ID: id, Number: num, Payload: payload}})
	}
}

// --- Administrative API (spec.md §6) -----------------------------------

// Connect dials endpoint and adds it to the connection set.
func (m *Manager) Connect(ctx context.Context, endpoint string) (string, error) {
	m.mu.RLock()
	_, exists := m.conns[endpoint]
	m.mu.RUnlock()
	if exists {
		return "already connected", nil
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return "", &Error{Kind: ErrIo, Err: err}
	}
	m.register(endpoint, nc, true)
	return "connecting", nil
}

// Disconnect closes and forgets the connection to endpoint.
func (m *Manager) Disconnect(endpoint string) string {
	m.mu.Lock()
	c, ok := m.conns[endpoint]
	delete(m.conns, endpoint)
	m.mu.Unlock()
	if !ok {
		return "not connected"
	}
	c.setState(StateClosing)
	return "disconnected"
}

// Status reports the ConnectionStatus of a single endpoint.
func (m *Manager) Status(endpoint string) (ConnectionStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[endpoint]
	if !ok {
		return ConnectionStatus{}, false
	}
	return statusOf(c), true
}

// Connections lists the ConnectionStatus of every known endpoint.
func (m *Manager) Connections() []ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConnectionStatus, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, statusOf(c))
	}
	return out
}

func statusOf(c *Connection) ConnectionStatus {
	st := c.State()
	return ConnectionStatus{
		Peer:          c.RemoteEndpoint,
		Connecting:    st == StateConnecting || st == StateHandshaking,
		Syncing:       st == StateSyncing,
		LastHandshake: c.HandshakeTime(),
	}
}

// --- listener / dialer loop --------------------------------------------

// ListenAndServe accepts inbound connections on cfg.ListenAddress and dials
// every seed peer, running until Shutdown is called (it then returns nil)
// or the listener fails. Bind
// must be called first with the host application's chain controller,
// signer, and verifier — corenet never implements those itself (spec.md
// §1), so an unbound Manager reports an error here rather than panicking
// once a connection arrives.
func (m *Manager) ListenAndServe() error {
	if m.chain == nil || m.signer == nil || m.verifier == nil {
		return &Error{Kind: ErrIo, Err: fmt.Errorf("corenet: Manager.Bind must be called before ListenAndServe")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	ln, err := net.Listen("tcp", m.cfg.ListenAddress)
	if err != nil {
		return &Error{Kind: ErrIo, Err: err}
	}
	m.listener = ln

	for _, seed := range m.cfg.SeedPeers {
		go func(addr string) {
			if _, err := m.Connect(ctx, addr); err != nil {
				log.Root().Warn("seed dial failed", "addr", addr, "err", err)
			}
		}(seed)
	}

	go m.runSyncTicker(ctx)

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return &Error{Kind: ErrIo, Err: err}
			}
		}
		m.register(nc.RemoteAddr().String(), nc, false)
	}
}

// broadcastChainSize enqueues a fresh ChainSize to every connection
// currently up, the Sync Controller's completion hook (spec.md §4.5 step
// 7: "on completion, broadcast new ChainSize") and the symmetric signal
// for a peer that just caught us up on handshake (spec.md §8 scenario 1:
// "A emits ChainSize thereafter").
func (m *Manager) broadcastChainSize() {
	headNum, headID := m.chain.Head()
	libNum, libID := m.chain.LastIrreversible()
	msg := &Message{Tag: TagChainSize, ChainSize: &ChainSize{
		LastIrreversibleNum: libNum,
		LastIrreversibleID:  libID,
		HeadNum:             headNum,
		HeadID:              headID,
	}}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns {
		if c.State() == StateUp {
			c.Enqueue(msg)
		}
	}
}

// runSyncTicker periodically assigns pending sync chunks and sweeps timed
// out ones, since neither AssignPending nor SweepTimeouts is triggered by
// the read/write loops themselves (spec.md §4.5 step 6). It also polls the
// chain controller's LIB so the Dispatcher can expire recent_blk entries
// once they age past it (spec.md §3), since nothing else in corenet learns
// of LIB advancement on its own.
func (m *Manager) runSyncTicker(ctx context.Context) {
	ticker := time.NewTicker(SyncTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sync.SweepTimeouts()
			if err := m.sync.AssignPending(ctx); err != nil {
				log.Root().Debug("sync assignment round failed", "err", err)
			}
			if num, id := m.chain.LastIrreversible(); num > 0 {
				m.disp.OnIrreversibleBlock(num, id)
			}
		}
	}
}

// Shutdown stops accepting connections and closes the worker pool (spec.md
// §5: "shutdown sets a cancel flag on the reactor").
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.listener != nil {
		m.listener.Close()
	}
	if m.pool != nil {
		m.pool.Close()
	}
}

func (m *Manager) register(endpoint string, nc net.Conn, outbound bool) {
	m.mu.Lock()
	if m.cfg.MaxPeers > 0 && len(m.conns) >= m.cfg.MaxPeers && !outbound {
		m.mu.Unlock()
		log.Root().Debug("rejecting inbound connection, max peers reached", "endpoint", endpoint, "max_peers", m.cfg.MaxPeers)
		nc.Close()
		return
	}
	conn := NewConnection(endpoint, m.cfg.KnowledgeSetSize, m.clock)
	m.conns[endpoint] = conn
	m.mu.Unlock()

	sess := NewSession(conn, nc, m.chain, m, m, m.signer, m.clock)
	sess.Disp = m.disp
	sess.Pool = m.pool
	sess.Codec.FrameCap = m.cfg.FrameCap
	sess.HighWatermark = m.cfg.OutboundHighWater
	sess.HardCap = m.cfg.OutboundHardCap
	sess.Keepalive = m.cfg.KeepaliveInterval
	sess.Inactivity = m.cfg.InactivityTimeout

	ctx, cancel := context.WithCancel(context.Background())

	if outbound {
		var token common.Hash
		copy(token[:], []byte(fmt.Sprintf("%d", m.clock.Now().UnixNano())))
		if err := sess.SendHandshake(token); err != nil {
			log.Root().Warn("handshake send failed", "endpoint", endpoint, "err", err)
			cancel()
			nc.Close()
			return
		}
	}

	go func() {
		defer cancel()
		defer nc.Close()
		defer m.OnPeerDown(conn)
		if err := sess.ReadLoop(ctx, nc); err != nil {
			log.Root().Debug("read loop ended", "endpoint", endpoint, "err", err)
		}
	}()
	go func() {
		defer cancel()
		defer nc.Close()
		if err := sess.WriteLoop(ctx, nc); err != nil {
			log.Root().Debug("write loop ended", "endpoint", endpoint, "err", err)
		}
	}()
}

package corenet

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corechain/corenet/common"
)

type fakeHands struct {
	nodeID  common.Hash
	chainID common.Hash
	live    map[common.Hash]bool
}

func (h *fakeHands) OurNodeID() common.Hash  { return h.nodeID }
func (h *fakeHands) OurChainID() common.Hash { return h.chainID }
func (h *fakeHands) NetworkVersionCompatible(v uint16) bool { return v == ProtocolVersion }
func (h *fakeHands) HasLiveConnection(id common.Hash) bool  { return h.live[id] }
func (h *fakeHands) Verify(common.PubKey, []byte, common.Signature) bool { return true }

type fakeSigner struct{ pk common.PubKey }

func (s *fakeSigner) Sign(msg []byte) (common.Signature, error) { return common.Signature{9}, nil }
func (s *fakeSigner) PubKey() common.PubKey                     { return s.pk }

type fakeSync struct {
	upCh   chan *Connection
	rttNs  int64
	rttSet bool
}

func (f *fakeSync) OnPeerUp(c *Connection)                         { f.upCh <- c }
func (f *fakeSync) OnPeerDown(c *Connection)                       {}
func (f *fakeSync) OnNotice(c *Connection, n *Notice)              {}
func (f *fakeSync) OnSyncRequest(c *Connection, r *SyncRequest)    {}
func (f *fakeSync) OnBlockReceived(c *Connection, blockNum uint32) {}
func (f *fakeSync) OnRTTUpdated(c *Connection, rttNs int64)        { f.rttNs = rttNs; f.rttSet = true }

func TestHandshakeOverPipeEntersUpState(t *testing.T) {
	chainID := common.BytesToHash([]byte("chain"))
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientChain := &fakeChain{head: 5}
	serverChain := &fakeChain{head: 0}

	clientHands := &fakeHands{nodeID: common.BytesToHash([]byte("client")), chainID: chainID, live: map[common.Hash]bool{}}
	serverHands := &fakeHands{nodeID: common.BytesToHash([]byte("server")), chainID: chainID, live: map[common.Hash]bool{}}

	serverSyncCh := make(chan *Connection, 1)
	serverSync := &fakeSync{upCh: serverSyncCh}
	clientSyncCh := make(chan *Connection, 1)
	clientSync := &fakeSync{upCh: clientSyncCh}

	clock := &fakeClock{t: time.Unix(100, 0)}

	clientC := NewConnection("server-addr", 64, clock)
	serverC := NewConnection("client-addr", 64, clock)

	clientSess := NewSession(clientC, clientConn, clientChain, clientSync, clientHands, &fakeSigner{}, clock)
	serverSess := NewSession(serverC, serverConn, serverChain, serverSync, serverHands, &fakeSigner{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serverSess.WriteLoop(ctx, serverConn)
	go clientSess.WriteLoop(ctx, clientConn)
	go serverSess.ReadLoop(ctx, serverConn)
	go clientSess.ReadLoop(ctx, clientConn)

	require.NoError(t, clientSess.SendHandshake(common.BytesToHash([]byte("token"))))

	select {
	case c := <-serverSyncCh:
		require.Equal(t, clientHands.nodeID, c.PeerNodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw peer up")
	}
}

func TestQueueWatermarkReportsHighAndHardBands(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	conn := NewConnection("peer-addr", 8, clock)
	sess := NewSession(conn, nil, &fakeChain{}, &fakeSync{upCh: make(chan *Connection, 1)}, &fakeHands{}, &fakeSigner{}, clock)

	over, hard := sess.QueueWatermark()
	require.False(t, over)
	require.False(t, hard)

	for i := 0; i < sess.HighWatermark; i++ {
		conn.Enqueue(&Message{Tag: TagTime})
	}
	over, hard = sess.QueueWatermark()
	require.True(t, over)
	require.False(t, hard)
}

func TestOnTimeReplyReportsRTTToSyncController(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1, 0)}
	conn := NewConnection("peer-addr", 8, clock)
	sync := &fakeSync{upCh: make(chan *Connection, 1)}
	sess := NewSession(conn, nil, &fakeChain{}, sync, &fakeHands{}, &fakeSigner{}, clock)

	reply := &TimeMessage{Org: 1000, Rec: 1010, Xmt: 1015}
	require.NoError(t, sess.onTime(reply))

	require.True(t, sync.rttSet)
	require.Equal(t, RoundTrip(reply, clock.Now().UnixNano()), sync.rttNs)
	require.Equal(t, sync.rttNs, conn.RTT())
}

func TestOnRequestServesHeldPayloadsAndSkipsUnknown(t *testing.T) {
	chain := &fakeChain{head: 1}
	clock := &fakeClock{t: time.Unix(0, 0)}
	conn := NewConnection("peer-addr", 64, clock)
	sess := NewSession(conn, nil, chain, &fakeSync{upCh: make(chan *Connection, 1)}, &fakeHands{}, &fakeSigner{}, clock)

	disp := NewDispatcher(chain, NewGossip(), 0)
	sess.Disp = disp

	tx := &PackedTransaction{ID: common.BytesToHash([]byte("tx")), Payload: []byte("abc")}
	b := &SignedBlock{ID: common.BytesToHash([]byte("blk")), Number: 7, Payload: []byte("xyz")}
	disp.OnAcceptedTransaction(tx)
	disp.OnAcceptedBlock(b)

	unknownID := common.BytesToHash([]byte("missing"))
	sess.onRequest(&Request{
		ReqTrx:    SelectIDs{IDs: []common.Hash{tx.ID, unknownID}},
		ReqBlocks: SelectIDs{IDs: []common.Hash{b.ID, unknownID}},
	})

	require.Equal(t, 2, conn.QueueLen())
	first := <-conn.Outbound()
	require.Equal(t, TagPackedTransaction, first.Tag)
	require.Equal(t, tx.Payload, first.PackedTransaction.Payload)
	second := <-conn.Outbound()
	require.Equal(t, TagSignedBlock, second.Tag)
	require.Equal(t, b.Number, second.SignedBlock.Number)
	require.Equal(t, b.Payload, second.SignedBlock.Payload)
}

package corenet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corechain/corenet/common"
)

func newUpPeer(t *testing.T, nodeID common.Hash, headNum uint32) *Connection {
	t.Helper()
	c := NewConnection(nodeID.Hex(), 64, RealClock)
	c.MarkUp(&Handshake{NodeID: nodeID, HeadNum: headNum})
	return c
}

func TestRelayTransactionNoEcho(t *testing.T) {
	g := NewGossip()
	a := newUpPeer(t, common.BytesToHash([]byte("a")), 1)
	b := newUpPeer(t, common.BytesToHash([]byte("b")), 1)
	c := newUpPeer(t, common.BytesToHash([]byte("c")), 1)
	g.AddPeer(a)
	g.AddPeer(b)
	g.AddPeer(c)

	tx := &PackedTransaction{ID: common.BytesToHash([]byte("tx1")), Payload: make([]byte, 500)}
	// c already has it.
	c.Known.MarkTransaction(tx.ID)

	inline, notice := g.RelayTransaction(tx)
	require.Empty(t, notice)
	require.Len(t, inline, 2)
	for _, peer := range inline {
		require.NotEqual(t, c.RemoteEndpoint, peer.RemoteEndpoint)
		require.True(t, peer.Known.KnowsTransaction(tx.ID))
	}
	require.True(t, c.Known.KnowsTransaction(tx.ID))

	// Relaying again produces nothing: both known peers were marked.
	inline2, notice2 := g.RelayTransaction(tx)
	require.Empty(t, inline2)
	require.Empty(t, notice2)
}

func TestRelayTransactionOversizeUsesNotice(t *testing.T) {
	g := NewGossip()
	a := newUpPeer(t, common.BytesToHash([]byte("a")), 1)
	g.AddPeer(a)

	tx := &PackedTransaction{ID: common.BytesToHash([]byte("big")), Payload: make([]byte, OversizeThreshold+1)}
	inline, notice := g.RelayTransaction(tx)
	require.Empty(t, inline)
	require.Len(t, notice, 1)
}

func TestRelayBlockSkipsPeersAheadAndDefersPeersFarBehind(t *testing.T) {
	g := NewGossip()
	ahead := newUpPeer(t, common.BytesToHash([]byte("ahead")), 100)
	caughtUp := newUpPeer(t, common.BytesToHash([]byte("caught-up")), 49)
	farBehind := newUpPeer(t, common.BytesToHash([]byte("far-behind")), 1)
	g.AddPeer(ahead)
	g.AddPeer(caughtUp)
	g.AddPeer(farBehind)

	block := &SignedBlock{ID: common.BytesToHash([]byte("blk")), Number: 50, Payload: []byte("payload")}
	inline, notice := g.RelayBlock(block)
	require.Empty(t, notice)
	require.Len(t, inline, 1)
	require.Equal(t, caughtUp.RemoteEndpoint, inline[0].RemoteEndpoint)
	require.False(t, farBehind.Known.KnowsBlock(block.ID))
	require.False(t, ahead.Known.KnowsBlock(block.ID))
}

func TestMergeNoticeAndBuildRequest(t *testing.T) {
	peer := newUpPeer(t, common.BytesToHash([]byte("p")), 1)
	id1 := common.BytesToHash([]byte("t1"))
	id2 := common.BytesToHash([]byte("t2"))
	notice := &Notice{KnownTrx: SelectIDs{Mode: ModeNormal, IDs: []common.Hash{id1, id2}}}

	MergeNotice(peer, notice)
	require.True(t, peer.Known.KnowsTransaction(id1))
	require.True(t, peer.Known.KnowsTransaction(id2))

	have := map[common.Hash]bool{id1: true}
	req := BuildRequest(notice, func(id common.Hash) bool { return have[id] }, func(common.Hash) bool { return false })
	require.Equal(t, []common.Hash{id2}, req.ReqTrx.IDs)
}

func TestRelayTransactionBackedUpPeerGetsNoticeNotPayload(t *testing.T) {
	g := NewGossip()
	backedUp := newUpPeer(t, common.BytesToHash([]byte("backed-up")), 1)
	for i := 0; i < DefaultHighWatermark; i++ {
		backedUp.Enqueue(&Message{Tag: TagTime})
	}
	g.AddPeer(backedUp)

	tx := &PackedTransaction{ID: common.BytesToHash([]byte("small")), Payload: []byte("abc")}
	inline, notice := g.RelayTransaction(tx)
	require.Empty(t, inline)
	require.Len(t, notice, 1)
}

func TestRelayEndpointSkipsSourceAndDedupsPerPeer(t *testing.T) {
	g := NewGossip()
	source := newUpPeer(t, common.BytesToHash([]byte("source")), 1)
	other := newUpPeer(t, common.BytesToHash([]byte("other")), 1)
	g.AddPeer(source)
	g.AddPeer(other)

	addr := "10.0.0.1:9876"
	out := g.RelayEndpoint(source, addr)
	require.Len(t, out, 1)
	require.Equal(t, other.RemoteEndpoint, out[0].RemoteEndpoint)
	require.True(t, other.Known.KnowsEndpoint(addr))

	// Relaying the same address again produces nothing: other already knows.
	require.Empty(t, g.RelayEndpoint(source, addr))
}

package corenet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corechain/corenet/common"
)

func TestDispatcherDedupsAcceptedTransaction(t *testing.T) {
	g := NewGossip()
	peer := newUpPeer(t, common.BytesToHash([]byte("peer")), 1)
	g.AddPeer(peer)

	d := NewDispatcher(nil, g, 0)
	tx := &PackedTransaction{ID: common.BytesToHash([]byte("tx")), Payload: []byte("abc")}

	require.False(t, d.LookupTransaction(tx.ID))
	d.OnAcceptedTransaction(tx)
	require.True(t, d.LookupTransaction(tx.ID))
	require.Equal(t, 1, peer.QueueLen())

	// A second acceptance of the same id is a no-op: no further relay.
	d.OnAcceptedTransaction(tx)
	require.Equal(t, 1, peer.QueueLen())
}

func TestDispatcherDedupsAcceptedBlock(t *testing.T) {
	g := NewGossip()
	peer := newUpPeer(t, common.BytesToHash([]byte("peer")), 9)
	g.AddPeer(peer)

	d := NewDispatcher(nil, g, 0)
	b := &SignedBlock{ID: common.BytesToHash([]byte("blk")), Number: 10, Payload: []byte("xyz")}

	d.OnAcceptedBlock(b)
	require.True(t, d.LookupBlock(b.ID))
	require.Equal(t, 1, peer.QueueLen())

	d.OnAcceptedBlock(b)
	require.Equal(t, 1, peer.QueueLen())
}

func TestOnIrreversibleBlockExpiresPastGracePeriod(t *testing.T) {
	d := NewDispatcher(nil, NewGossip(), 0)
	d.GraceBlocks = 10
	b := &SignedBlock{ID: common.BytesToHash([]byte("old-block")), Number: 5, Payload: []byte("xyz")}
	d.OnAcceptedBlock(b)
	require.True(t, d.LookupBlock(b.ID))

	// LIB has advanced, but not yet past the grace period: still held.
	d.OnIrreversibleBlock(10, common.Hash{})
	require.True(t, d.LookupBlock(b.ID))

	// LIB now sits more than GraceBlocks past the block's number: expired.
	d.OnIrreversibleBlock(16, common.Hash{})
	require.False(t, d.LookupBlock(b.ID))
}

func TestOnIrreversibleBlockIgnoresStaleLIB(t *testing.T) {
	d := NewDispatcher(nil, NewGossip(), 0)
	d.GraceBlocks = 1
	b := &SignedBlock{ID: common.BytesToHash([]byte("blk")), Number: 20, Payload: []byte("xyz")}
	d.OnAcceptedBlock(b)

	d.OnIrreversibleBlock(30, common.Hash{})
	require.False(t, d.LookupBlock(b.ID))

	// A stale/out-of-order LIB notification below the recorded LIB is a no-op.
	b2 := &SignedBlock{ID: common.BytesToHash([]byte("blk2")), Number: 25, Payload: []byte("abc")}
	d.OnAcceptedBlock(b2)
	d.OnIrreversibleBlock(5, common.Hash{})
	require.True(t, d.LookupBlock(b2.ID))
}

func TestDispatcherServesRequestedPayloads(t *testing.T) {
	d := NewDispatcher(nil, NewGossip(), 0)
	tx := &PackedTransaction{ID: common.BytesToHash([]byte("tx2")), Payload: []byte("abc")}
	b := &SignedBlock{ID: common.BytesToHash([]byte("blk2")), Number: 42, Payload: []byte("xyz")}

	_, ok := d.GetTransaction(tx.ID)
	require.False(t, ok)

	d.OnAcceptedTransaction(tx)
	d.OnAcceptedBlock(b)

	gotTx, ok := d.GetTransaction(tx.ID)
	require.True(t, ok)
	require.Equal(t, tx.Payload, gotTx)

	num, gotBlk, ok := d.GetBlock(b.ID)
	require.True(t, ok)
	require.Equal(t, b.Number, num)
	require.Equal(t, b.Payload, gotBlk)
}

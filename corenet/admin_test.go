package corenet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corechain/corenet/common"
)

func TestRegisterRejectsInboundBeyondMaxPeers(t *testing.T) {
	cfg := Defaults
	cfg.MaxPeers = 1
	clock := &fakeClock{t: time.Unix(0, 0)}
	m := NewManager(&cfg, clock)
	m.conns["existing-peer"] = NewConnection("existing-peer", 8, clock)

	client, server := net.Pipe()
	defer client.Close()

	m.register("new-peer", server, false)

	require.Len(t, m.conns, 1)
	_, ok := m.Status("new-peer")
	require.False(t, ok)

	_, writeErr := client.Write([]byte("x"))
	require.Error(t, writeErr)
}

func TestStatusReportsLastHandshakeTime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(42, 0)}
	conn := NewConnection("peer-addr", 8, clock)

	st := statusOf(conn)
	require.True(t, st.LastHandshake.IsZero())

	conn.MarkUp(&Handshake{NodeID: common.BytesToHash([]byte("peer"))})
	st = statusOf(conn)
	require.Equal(t, clock.t, st.LastHandshake)
}

func TestBroadcastChainSizeEnqueuesOnlyUpConnections(t *testing.T) {
	cfg := Defaults
	clock := &fakeClock{t: time.Unix(0, 0)}
	m := NewManager(&cfg, clock)
	m.chain = &fakeChain{head: 7}

	up := NewConnection("up-peer", 8, clock)
	up.MarkUp(&Handshake{NodeID: common.BytesToHash([]byte("up"))})
	handshaking := NewConnection("handshaking-peer", 8, clock)
	m.conns["up-peer"] = up
	m.conns["handshaking-peer"] = handshaking

	m.broadcastChainSize()

	require.Equal(t, 1, up.QueueLen())
	msg := <-up.Outbound()
	require.Equal(t, TagChainSize, msg.Tag)
	require.Equal(t, uint32(7), msg.ChainSize.HeadNum)
	require.Equal(t, 0, handshaking.QueueLen())
}

func TestRegisterAllowsOutboundBeyondMaxPeers(t *testing.T) {
	cfg := Defaults
	cfg.MaxPeers = 1
	clock := &fakeClock{t: time.Unix(0, 0)}
	m := NewManager(&cfg, clock)
	m.chain = &fakeChain{}
	m.signer = &fakeSigner{}
	m.conns["existing-peer"] = NewConnection("existing-peer", 8, clock)

	client, server := net.Pipe()
	defer client.Close()

	m.register("seed-peer", server, true)

	require.Len(t, m.conns, 2)
}

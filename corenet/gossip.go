package corenet

import (
	"github.com/corechain/corenet/common"
)

// Gossip decides, for each peer and each known item, whether to relay a
// payload inline, announce it with a Notice, or skip it — the no-echo rule
// and oversize threshold of spec.md §4.2 steps 2–4, grounded on the
// corpus's eth/peer.go broadcast fan-out (knownTxs/knownBlocks gate,
// generalized here to the spec's explicit Notice-vs-payload decision).
type Gossip struct {
	peers map[common.Hash]*Connection
}

// NewGossip creates an empty Gossip engine.
func NewGossip() *Gossip {
	return &Gossip{
		peers: make(map[common.Hash]*Connection),
	}
}

// AddPeer registers a newly-up connection.
func (g *Gossip) AddPeer(c *Connection) {
	g.peers[c.PeerNodeID] = c
}

// RemovePeer drops a closed connection.
func (g *Gossip) RemovePeer(nodeID common.Hash) {
	delete(g.peers, nodeID)
}

// RelayEndpoint decides which connected peers other than from should be
// told about addr, a P2P address verified by a just-completed handshake
// (spec.md §4.2 write-loop step 3: "relay verified endpoints learned this
// round as a Notice"). Each returned peer's Knowledge Set is marked so the
// same address is never relayed to it twice.
func (g *Gossip) RelayEndpoint(from *Connection, addr string) []*Connection {
	if addr == "" {
		return nil
	}
	var out []*Connection
	for _, c := range g.peers {
		if c == from || c.State() != StateUp {
			continue
		}
		if c.Known.KnowsEndpoint(addr) {
			continue
		}
		c.Known.MarkEndpoint(addr)
		out = append(out, c)
	}
	return out
}

// shouldNotice reports whether a payload of size n should be announced
// instead of sent inline (spec.md §4.2: "Notice if block size > 3×MTU").
func shouldNotice(n int) bool { return n > OversizeThreshold }

// overHighWatermark reports whether c's outbound mailbox is backed up
// enough that the Gossip Engine should switch from payload to Notice for
// it (spec.md §4.2 backpressure: "if outbound queue exceeds a high
// watermark, the Gossip Engine switches from payload to Notice").
func overHighWatermark(c *Connection) bool { return c.QueueLen() >= DefaultHighWatermark }

// RelayBlock decides, per connected peer, whether to send the block inline,
// announce it, or skip it (the peer already knows it — the no-echo rule).
// It marks the peer's knowledge set so the block is never sent twice.
func (g *Gossip) RelayBlock(b *SignedBlock) (inline, notice []*Connection) {
	big := shouldNotice(len(b.Payload))
	for _, c := range g.peers {
		if c.State() != StateUp {
			continue
		}
		if c.Known.KnowsBlock(b.ID) {
			continue
		}
		if c.PeerHeadNum >= b.Number {
			continue
		}
		if c.PeerHeadNum < b.Number-1 {
			// more than one block behind: defer to the Sync Controller
			// rather than pushing new blocks at a peer that isn't caught
			// up yet (spec.md §4.4).
			continue
		}
		c.Known.MarkBlock(b.ID)
		if big || overHighWatermark(c) {
			notice = append(notice, c)
		} else {
			inline = append(inline, c)
		}
	}
	return inline, notice
}

// RelayTransaction decides, per connected peer, whether to send the
// transaction inline or as a Notice, applying the same no-echo rule.
func (g *Gossip) RelayTransaction(tx *PackedTransaction) (inline, notice []*Connection) {
	big := shouldNotice(len(tx.Payload))
	for _, c := range g.peers {
		if c.State() != StateUp {
			continue
		}
		if c.Known.KnowsTransaction(tx.ID) {
			continue
		}
		c.Known.MarkTransaction(tx.ID)
		if big || overHighWatermark(c) {
			notice = append(notice, c)
		} else {
			inline = append(inline, c)
		}
	}
	return inline, notice
}

// MergeNotice folds a received Notice's ids into the peer's Knowledge Set
// (spec.md §4.2: "On Notice: merge ids into the peer's Knowledge Set").
func MergeNotice(c *Connection, n *Notice) {
	for _, id := range n.KnownTrx.IDs {
		c.Known.MarkTransaction(id)
	}
	for _, id := range n.KnownBlocks.IDs {
		c.Known.MarkBlock(id)
	}
}

// BuildRequest computes which of the ids advertised in a Notice we do not
// yet hold, producing the Request to send back. have reports whether the
// local node already has an item of the given id.
func BuildRequest(n *Notice, haveTrx, haveBlock func(common.Hash) bool) *Request {
	req := &Request{
		ReqTrx:    SelectIDs{Mode: ModeNormal},
		ReqBlocks: SelectIDs{Mode: ModeNormal},
	}
	for _, id := range n.KnownTrx.IDs {
		if !haveTrx(id) {
			req.ReqTrx.IDs = append(req.ReqTrx.IDs, id)
		}
	}
	for _, id := range n.KnownBlocks.IDs {
		if !haveBlock(id) {
			req.ReqBlocks.IDs = append(req.ReqBlocks.IDs, id)
		}
	}
	return req
}

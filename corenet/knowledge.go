package corenet

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/corechain/corenet/common"
)

// DefaultKnowledgeSetSize is the default per-kind LRU capacity for a peer's
// knowledge set (spec.md §4.3: "Size bound is a configuration option").
const DefaultKnowledgeSetSize = 32768

// KnowledgeSet is a peer's bounded, LRU-evicted record of which
// transactions and blocks it is known to have or to have been told about
// (spec.md §4.3). Eviction never causes retransmission by itself —
// rediscovery happens via a later Notice.
type KnowledgeSet struct {
	txns      *lru.Cache
	blocks    *lru.Cache
	endpoints *lru.Cache
}

// NewKnowledgeSet creates a KnowledgeSet with the given per-kind capacity.
func NewKnowledgeSet(size int) *KnowledgeSet {
	if size <= 0 {
		size = DefaultKnowledgeSetSize
	}
	txns, err := lru.New(size)
	if err != nil {
		panic(err) // only fails for size <= 0, excluded above
	}
	blocks, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	endpoints, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &KnowledgeSet{txns: txns, blocks: blocks, endpoints: endpoints}
}

// MarkTransaction records that the peer knows transaction id, on send or
// receive of a payload or notice containing it.
func (k *KnowledgeSet) MarkTransaction(id common.Hash) { k.txns.Add(id, struct{}{}) }

// MarkBlock records that the peer knows block id.
func (k *KnowledgeSet) MarkBlock(id common.Hash) { k.blocks.Add(id, struct{}{}) }

// KnowsTransaction reports whether the peer is known to have (or have been
// told about) transaction id.
func (k *KnowledgeSet) KnowsTransaction(id common.Hash) bool { return k.txns.Contains(id) }

// KnowsBlock reports whether the peer is known to have (or have been told
// about) block id.
func (k *KnowledgeSet) KnowsBlock(id common.Hash) bool { return k.blocks.Contains(id) }

// MarkEndpoint records that the peer has already been sent (or is the
// source of) a verified P2P address, so the Gossip Engine doesn't relay it
// there again (spec.md §4.2 write-loop step 3).
func (k *KnowledgeSet) MarkEndpoint(addr string) { k.endpoints.Add(addr, struct{}{}) }

// KnowsEndpoint reports whether the peer is known to already have addr.
func (k *KnowledgeSet) KnowsEndpoint(addr string) bool { return k.endpoints.Contains(addr) }

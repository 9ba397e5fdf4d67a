package corenet

import (
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"golang.org/x/sync/singleflight"

	"github.com/corechain/corenet/common"
	"github.com/corechain/corenet/metrics"
)

var (
	acceptedTxMeter  = metrics.NewRegisteredMeter("corenet/dispatcher/accepted_txns")
	acceptedBlkMeter = metrics.NewRegisteredMeter("corenet/dispatcher/accepted_blocks")
)

// DefaultDispatcherCacheBytes sizes the global dedup caches (spec.md §4.5:
// "recent_txn"/"recent_blk" bound globally, independent of per-peer
// Knowledge Sets).
const DefaultDispatcherCacheBytes = 32 * 1024 * 1024

// DefaultLIBGraceBlocks is how many additional blocks past the LIB a
// recent_blk entry survives before it is purged (spec.md §3: "entries
// expire when the block containing them becomes irreversible plus a grace
// period" — the grace period gives a late Request for a just-finalized
// block a window to still be served).
const DefaultLIBGraceBlocks = 120

// Dispatcher is the single-writer hub that deduplicates accepted
// transactions and blocks globally and fans out relay decisions to the
// Gossip Engine (spec.md §4.5, §5: "the Dispatcher map is protected by a
// single-writer discipline"). recent_txn/recent_blk use byte-bounded LRU
// caches rather than the per-peer hashicorp/golang-lru sets, since here the
// bound is on total memory, not item count.
type Dispatcher struct {
	recentTxn *fastcache.Cache
	recentBlk *fastcache.Cache

	group singleflight.Group

	Gossip *Gossip
	Chain  ChainController

	GraceBlocks uint32

	mu          sync.Mutex
	lib         uint32
	blkByNumber map[uint32][]common.Hash // index for LIB-based expiry, fastcache has no range-delete
}

// NewDispatcher creates a Dispatcher with the given cache sizing in bytes;
// cacheBytes<=0 uses DefaultDispatcherCacheBytes.
func NewDispatcher(chain ChainController, gossip *Gossip, cacheBytes int) *Dispatcher {
	if cacheBytes <= 0 {
		cacheBytes = DefaultDispatcherCacheBytes
	}
	return &Dispatcher{
		recentTxn:   fastcache.New(cacheBytes),
		recentBlk:   fastcache.New(cacheBytes),
		Gossip:      gossip,
		Chain:       chain,
		GraceBlocks: DefaultLIBGraceBlocks,
		blkByNumber: make(map[uint32][]common.Hash),
	}
}

func (d *Dispatcher) seenTxn(id common.Hash) bool { return d.recentTxn.Has(id.Bytes()) }
func (d *Dispatcher) seenBlk(id common.Hash) bool { return d.recentBlk.Has(id.Bytes()) }

func (d *Dispatcher) markTxn(id common.Hash, payload []byte) {
	d.recentTxn.Set(id.Bytes(), payload)
}

// markBlk stores the block number ahead of the payload bytes so a later
// Request response can rebuild a SignedBlock from the id alone.
func (d *Dispatcher) markBlk(id common.Hash, number uint32, payload []byte) {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, number)
	copy(buf[4:], payload)
	d.recentBlk.Set(id.Bytes(), buf)

	d.mu.Lock()
	d.blkByNumber[number] = append(d.blkByNumber[number], id)
	d.mu.Unlock()
}

// LookupTransaction reports whether id was recently accepted.
func (d *Dispatcher) LookupTransaction(id common.Hash) bool { return d.seenTxn(id) }

// LookupBlock reports whether id was recently accepted.
func (d *Dispatcher) LookupBlock(id common.Hash) bool { return d.seenBlk(id) }

// GetTransaction returns the cached payload for a recently accepted
// transaction, serving the §4.2 "On Request" obligation.
func (d *Dispatcher) GetTransaction(id common.Hash) ([]byte, bool) {
	return d.recentTxn.HasGet(nil, id.Bytes())
}

// GetBlock returns the cached number and payload for a recently accepted
// block, serving the §4.2 "On Request" obligation.
func (d *Dispatcher) GetBlock(id common.Hash) (number uint32, payload []byte, ok bool) {
	buf, ok := d.recentBlk.HasGet(nil, id.Bytes())
	if !ok || len(buf) < 4 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], true
}

// OnAcceptedTransaction records a newly-validated transaction and relays it
// to peers that do not yet know it. Concurrent calls for the same id
// collapse via singleflight so a transaction arriving from two peers at
// once is only relayed once (spec.md §5).
func (d *Dispatcher) OnAcceptedTransaction(tx *PackedTransaction) {
	key := tx.ID.Hex()
	_, _, _ = d.group.Do(key, func() (interface{}, error) {
		if d.seenTxn(tx.ID) {
			return nil, nil
		}
		d.markTxn(tx.ID, tx.Payload)
		acceptedTxMeter.Mark(1)
		inline, notice := d.Gossip.RelayTransaction(tx)
		for _, c := range inline {
			c.Enqueue(&Message{Tag: TagPackedTransaction, PackedTransaction: tx})
		}
		if len(notice) > 0 {
			n := &Notice{KnownTrx: SelectIDs{Mode: ModeNormal, IDs: []common.Hash{tx.ID}}}
			for _, c := range notice {
				c.Enqueue(&Message{Tag: TagNotice, Notice: n})
			}
		}
		return nil, nil
	})
}

// OnAcceptedBlock records a newly-validated block and relays it, same
// dedup discipline as OnAcceptedTransaction.
func (d *Dispatcher) OnAcceptedBlock(b *SignedBlock) {
	key := b.ID.Hex()
	_, _, _ = d.group.Do(key, func() (interface{}, error) {
		if d.seenBlk(b.ID) {
			return nil, nil
		}
		d.markBlk(b.ID, b.Number, b.Payload)
		acceptedBlkMeter.Mark(1)
		inline, notice := d.Gossip.RelayBlock(b)
		for _, c := range inline {
			c.Enqueue(&Message{Tag: TagSignedBlock, SignedBlock: b})
		}
		if len(notice) > 0 {
			n := &Notice{KnownBlocks: SelectIDs{Mode: ModeNormal, IDs: []common.Hash{b.ID}}}
			for _, c := range notice {
				c.Enqueue(&Message{Tag: TagNotice, Notice: n})
			}
		}
		return nil, nil
	})
}

// OnIrreversibleBlock is called by Manager.runSyncTicker with the chain
// controller's current LIB. It purges recent_blk entries for blocks whose
// number is at least GraceBlocks below the LIB, the expiry spec.md §3
// requires ("entries expire when the block containing them becomes
// irreversible plus a grace period"). A LIB at or below the last recorded
// one is ignored.
func (d *Dispatcher) OnIrreversibleBlock(num uint32, id common.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if num <= d.lib {
		return
	}
	d.lib = num
	if num < d.GraceBlocks {
		return
	}
	cutoff := num - d.GraceBlocks
	for n, ids := range d.blkByNumber {
		if n > cutoff {
			continue
		}
		for _, blkID := range ids {
			d.recentBlk.Del(blkID.Bytes())
		}
		delete(d.blkByNumber, n)
	}
}

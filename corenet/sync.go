package corenet

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corechain/corenet/common"
	"github.com/corechain/corenet/metrics"
)

var chunkLatency = metrics.NewRegisteredTimer("corenet/sync/chunk_latency")

// DefaultChunkSize is the default number of blocks per sync chunk
// (spec.md §4.5).
const DefaultChunkSize = 100

// DefaultChunkTimeout is how long a chunk may go without progress before
// it is reassigned (spec.md §4.5).
const DefaultChunkTimeout = 10 * time.Second

// SyncUnfitCooldown is how long a peer that fails two consecutive chunk
// assignments is excluded from new assignments (spec.md §4.5).
const SyncUnfitCooldown = 60 * time.Second

// SyncTickInterval is how often the reactor re-evaluates pending chunk
// assignment and timeout sweeps (spec.md §4.5 step 6).
const SyncTickInterval = 2 * time.Second

// chunk tracks one contiguous range's assignment state.
type chunk struct {
	start, end uint32 // inclusive
	assignedTo common.Hash
	deadline   time.Time
	assignedAt time.Time
	complete   bool
}

// peerSyncState is the Sync Controller's per-peer bookkeeping, separate
// from Connection since it is owned by the controller, not the peer task
// (spec.md §5: single-writer discipline).
type peerSyncState struct {
	conn            *Connection
	inFlight        int
	budget          int
	consecutiveFail int
	unfitUntil      time.Time
	rttNs           int64
}

// Controller is the Sync Controller (spec.md §4.5), grounded on the
// teacher's downloader package's chunked-range-with-timeout-reassignment
// shape, adapted here to the spec's explicit chunk/budget/cooldown rules
// and fanned out with golang.org/x/sync/errgroup.
type Controller struct {
	mu sync.Mutex

	Chain     ChainController
	ChunkSize uint32

	peers  map[common.Hash]*peerSyncState
	chunks []*chunk

	clock Clock

	// done latches whether the controller believed itself caught up as of
	// the last chunk completion, so OnSyncDone fires once per transition
	// into the caught-up state rather than on every subsequent chunk.
	done bool
	// OnSyncDone is invoked (on the goroutine that reported the completing
	// chunk, after ctl.mu is released) the moment the controller
	// transitions from behind to caught up, so the Manager can
	// broadcast a fresh ChainSize to every connected peer (spec.md §4.5
	// step 7: "on completion, broadcast new ChainSize").
	OnSyncDone func()
}

// NewController creates a Sync Controller with spec defaults.
func NewController(chain ChainController, clock Clock) *Controller {
	if clock == nil {
		clock = RealClock
	}
	return &Controller{
		Chain:     chain,
		ChunkSize: DefaultChunkSize,
		peers:     make(map[common.Hash]*peerSyncState),
		clock:     clock,
	}
}

// OnPeerUp registers a connected peer as sync-eligible.
func (ctl *Controller) OnPeerUp(c *Connection) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.peers[c.PeerNodeID] = &peerSyncState{conn: c, budget: 4}
}

// OnPeerDown removes a disconnected peer and re-queues its in-flight chunk.
func (ctl *Controller) OnPeerDown(c *Connection) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	delete(ctl.peers, c.PeerNodeID)
	for _, ch := range ctl.chunks {
		if ch.assignedTo == c.PeerNodeID && !ch.complete {
			ch.assignedTo = common.Hash{}
		}
	}
}

// OnNotice forwards catch-up notices into the sync trigger evaluation
// (spec.md §4.2: "if mode = catch_up or last_irr_catch_up, forward to
// Sync Controller").
func (ctl *Controller) OnNotice(c *Connection, n *Notice) {
	MergeNotice(c, n)
	if n.KnownBlocks.Mode == ModeCatchUp || n.KnownBlocks.Mode == ModeLastIrrCatchUp {
		ctl.maybeStartSync(c.PeerLIBNum)
	}
}

// OnSyncRequest is the server side of a SyncRequest: Manager.OnSyncRequest
// serves it by enqueueing the requested blocks on the connection, not by
// the controller, so this is a no-op hook retained for interface symmetry.
func (ctl *Controller) OnSyncRequest(c *Connection, req *SyncRequest) {}

// OnRTTUpdated records a peer's latest round-trip time, feeding pickPeer's
// tie-break (spec.md §4.5).
func (ctl *Controller) OnRTTUpdated(c *Connection, rttNs int64) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if p := ctl.peers[c.PeerNodeID]; p != nil {
		p.rttNs = rttNs
	}
}

// OnBlockReceived is the client side of chunk tracking: a validated block
// that closes out a peer's assigned range completes the chunk (spec.md
// §4.5 step 5).
func (ctl *Controller) OnBlockReceived(c *Connection, blockNum uint32) {
	if _, end, ok := c.PendingSync(); ok && blockNum == end {
		ctl.OnChunkComplete(c.PeerNodeID, blockNum)
		c.ClearPendingSync()
	}
}

// ShouldStartSync implements spec.md §4.5's trigger condition.
func ShouldStartSync(peerLIB, ourHead uint32, ourHeadTime time.Time, now time.Time, blockInterval time.Duration, roundSize int) bool {
	if peerLIB <= ourHead {
		return false
	}
	return now.Sub(ourHeadTime) > blockInterval*time.Duration(roundSize)/2
}

func (ctl *Controller) maybeStartSync(peerLIB uint32) {
	ourHead, _ := ctl.Chain.Head()
	if peerLIB <= ourHead {
		return
	}
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.planChunks(ourHead+1, peerLIB)
}

// planChunks partitions [from,to] into ChunkSize-wide chunks not already
// covered by an existing chunk (spec.md §4.5 steps 1–2).
func (ctl *Controller) planChunks(from, to uint32) {
	covered := make(map[uint32]bool)
	for _, ch := range ctl.chunks {
		for n := ch.start; n <= ch.end; n++ {
			covered[n] = true
		}
	}
	size := ctl.ChunkSize
	if size == 0 {
		size = DefaultChunkSize
	}
	for start := from; start <= to; start += size {
		if covered[start] {
			continue
		}
		end := start + size - 1
		if end > to {
			end = to
		}
		ctl.chunks = append(ctl.chunks, &chunk{start: start, end: end})
	}
}

// targetInFlight is K = eligible peers × 2 (spec.md §4.5 step 3).
func (ctl *Controller) targetInFlight() int {
	eligible := 0
	now := ctl.clock.Now()
	for _, p := range ctl.peers {
		if p.conn.State() != StateUp || now.Before(p.unfitUntil) {
			continue
		}
		eligible++
	}
	return eligible * 2
}

// AssignPending assigns pending chunks up to the target in-flight depth,
// to the least-loaded eligible peer, tie-broken by lowest RTT (spec.md
// §4.5 steps 3–4), and fans the SyncRequest sends out via errgroup so a
// slow peer's send doesn't stall assignment of the rest.
func (ctl *Controller) AssignPending(ctx context.Context) error {
	ctl.mu.Lock()
	target := ctl.targetInFlight()
	inFlight := 0
	for _, ch := range ctl.chunks {
		if !ch.complete && !ch.assignedTo.IsZero() {
			inFlight++
		}
	}
	var toAssign []*chunk
	for _, ch := range ctl.chunks {
		if inFlight >= target {
			break
		}
		if ch.complete || !ch.assignedTo.IsZero() {
			continue
		}
		peer := ctl.pickPeer()
		if peer == nil {
			break
		}
		ch.assignedTo = peer.conn.PeerNodeID
		ch.assignedAt = ctl.clock.Now()
		ch.deadline = ch.assignedAt.Add(DefaultChunkTimeout)
		peer.inFlight++
		toAssign = append(toAssign, ch)
		inFlight++
	}
	ctl.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, ch := range toAssign {
		ch := ch
		g.Go(func() error {
			ctl.mu.Lock()
			p := ctl.peers[ch.assignedTo]
			ctl.mu.Unlock()
			if p == nil {
				return nil
			}
			p.conn.SetPendingSync(ch.start, ch.end)
			p.conn.Enqueue(&Message{Tag: TagSyncRequest, SyncRequest: &SyncRequest{StartBlock: ch.start, EndBlock: ch.end}})
			return nil
		})
	}
	return g.Wait()
}

// pickPeer returns the eligible peer with fewest in-flight chunks, tied
// broken by lowest RTT (spec.md §4.5 tie-break). Caller must hold ctl.mu.
func (ctl *Controller) pickPeer() *peerSyncState {
	var candidates []*peerSyncState
	now := ctl.clock.Now()
	for _, p := range ctl.peers {
		if p.conn.State() != StateUp || now.Before(p.unfitUntil) || p.inFlight >= p.budget {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].inFlight != candidates[j].inFlight {
			return candidates[i].inFlight < candidates[j].inFlight
		}
		return candidates[i].rttNs < candidates[j].rttNs
	})
	return candidates[0]
}

// OnChunkComplete marks a chunk done on receipt of its last block
// (spec.md §4.5 step 5).
func (ctl *Controller) OnChunkComplete(peerNodeID common.Hash, blockNum uint32) {
	ctl.mu.Lock()
	for _, ch := range ctl.chunks {
		if ch.assignedTo == peerNodeID && ch.end == blockNum && !ch.complete {
			ch.complete = true
			if !ch.assignedAt.IsZero() {
				chunkLatency.Update(ctl.clock.Now().Sub(ch.assignedAt))
			}
			if p := ctl.peers[peerNodeID]; p != nil {
				p.inFlight--
				p.consecutiveFail = 0
			}
		}
	}
	nowDone := ctl.doneLocked()
	justFinished := nowDone && !ctl.done
	ctl.done = nowDone
	notify := ctl.OnSyncDone
	ctl.mu.Unlock()

	if justFinished && notify != nil {
		notify()
	}
}

// OnChunkTimeoutOrFailure re-queues a chunk to a different peer and halves
// the failed peer's budget; two consecutive failures mark it sync-unfit
// (spec.md §4.5 step 6).
func (ctl *Controller) OnChunkTimeoutOrFailure(peerNodeID common.Hash) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	p := ctl.peers[peerNodeID]
	if p != nil {
		p.inFlight--
		if p.inFlight < 0 {
			p.inFlight = 0
		}
		p.budget /= 2
		if p.budget < 1 {
			p.budget = 1
		}
		p.consecutiveFail++
		if p.consecutiveFail >= 2 {
			p.unfitUntil = ctl.clock.Now().Add(SyncUnfitCooldown)
		}
		p.conn.ClearPendingSync()
	}
	for _, ch := range ctl.chunks {
		if ch.assignedTo == peerNodeID && !ch.complete {
			ch.assignedTo = common.Hash{}
		}
	}
}

// SweepTimeouts finds chunks past their deadline and fails them, to be
// called periodically by the reactor (spec.md §4.5 step 6).
func (ctl *Controller) SweepTimeouts() {
	ctl.mu.Lock()
	now := ctl.clock.Now()
	var failed []common.Hash
	for _, ch := range ctl.chunks {
		if !ch.complete && !ch.assignedTo.IsZero() && now.After(ch.deadline) {
			failed = append(failed, ch.assignedTo)
		}
	}
	ctl.mu.Unlock()
	for _, nodeID := range failed {
		ctl.OnChunkTimeoutOrFailure(nodeID)
	}
}

// Done reports whether sync has caught up: head >= max known peer LIB and
// no chunk is in flight (spec.md §4.5 step 7).
func (ctl *Controller) Done() bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.doneLocked()
}

// doneLocked is Done's body, for call sites that already hold ctl.mu.
func (ctl *Controller) doneLocked() bool {
	for _, ch := range ctl.chunks {
		if !ch.complete {
			return false
		}
	}
	ourHead, _ := ctl.Chain.Head()
	for _, p := range ctl.peers {
		if p.conn.PeerLIBNum > ourHead {
			return false
		}
	}
	return true
}

// Package sync implements the header-first peer synchronization state
// machine: it decides when to request headers or block bodies from a peer,
// walks backward in fixed-size windows to find a common ancestor, and
// reports when the local chain has converged with a peer's. It is grounded
// on the teacher's worker.Sync polling loop, restructured as an explicit
// state machine instead of an unconditional per-peer poll.
package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/peer"
)

// State names a position in the sync state machine.
type State int

// The states a sync attempt moves through.
const (
	Idle State = iota
	InitSyncGetHeaders
	InitSyncGetBlocks
	InitSyncCompleted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case InitSyncGetHeaders:
		return "INIT_SYNC_GET_HEADERS"
	case InitSyncGetBlocks:
		return "INIT_SYNC_GET_BLOCKS"
	case InitSyncCompleted:
		return "INIT_SYNC_COMPLETED"
	default:
		return "IDLE"
	}
}

// ancestorSearchWindow is how far below the local best height the first
// header request starts, and how far the search steps back when a round's
// earliest header's parent is still unknown locally. Each request asks for
// headerBatchSize headers.
const ancestorSearchWindow = 200

// headerBatchSize is how many headers are requested per round.
const headerBatchSize = 10

// stuckTimeout reverts an in-progress sync back to Idle if no transition
// has been observed for this long. The source left this window
// unspecified; 30s is chosen to comfortably exceed one request/response
// round-trip without leaving a stalled peer occupying the sync slot long.
const stuckTimeout = 30 * time.Second

// Requester is the behavior the manager/dispatcher supplies to actually put
// a request on the wire; the state machine itself never touches a
// transport.
type Requester interface {
	RequestHeaders(p peer.Peer, from, count uint64) error
	RequestBlocks(p peer.Peer, from uint64) error
}

// ImportFunc applies a single synced block to the chain engine.
type ImportFunc func(block database.Block) error

// =============================================================================

// Manager drives one sync attempt against a single peer at a time. It
// holds no transport of its own: every outbound request goes through
// Requester, and every inbound response is fed back in by the dispatcher
// via HandleHeaders/HandleBlocks.
type Manager struct {
	mu sync.Mutex

	repo      database.Repository
	requester Requester
	evHandler func(v string, args ...any)

	state        State
	target       peer.Peer
	windowFrom   uint64
	lastProgress time.Time
}

// New constructs a Manager in the Idle state.
func New(repo database.Repository, requester Requester, evHandler func(v string, args ...any)) *Manager {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &Manager{
		repo:      repo,
		requester: requester,
		evHandler: evHandler,
	}
}

// State reports the current position in the state machine.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Evaluate reacts to a peer's reported status, starting a sync against it
// if its total difficulty exceeds the local chain's and no sync is already
// underway. It is a no-op otherwise.
func (m *Manager) Evaluate(p peer.Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Idle {
		return nil
	}

	best := m.repo.BestBlockInfo()
	if p.TotalDifficulty <= best.TotalDifficulty {
		return nil
	}

	m.target = p
	m.lastProgress = time.Now()

	bestHeight := m.repo.BestBlock().Header.Number
	if bestHeight == 0 {
		m.state = InitSyncGetBlocks
		m.evHandler("sync: Evaluate: peer[%s]: no local blocks, requesting from height 1", p.Host)
		return m.requester.RequestBlocks(p, 1)
	}

	m.state = InitSyncGetHeaders
	m.windowFrom = initialWindow(bestHeight)
	m.evHandler("sync: Evaluate: peer[%s]: requesting headers from %d", p.Host, m.windowFrom)
	return m.requester.RequestHeaders(p, m.windowFrom, headerBatchSize)
}

// HandleHeaders processes a BLOCK_HEADERS response while in
// InitSyncGetHeaders. An empty batch means the peer has nothing in that
// range, completing the sync. Otherwise the earliest header's parent is
// checked against the local repository: if known, a common ancestor has
// been found and the sync switches to pulling bodies from there; if
// unknown, the search window steps back further and headers are
// requested again.
func (m *Manager) HandleHeaders(headers []database.BlockHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != InitSyncGetHeaders {
		return nil
	}

	if len(headers) == 0 {
		m.evHandler("sync: HandleHeaders: peer[%s]: no headers returned, sync completed", m.target.Host)
		m.state = InitSyncCompleted
		return nil
	}

	m.lastProgress = time.Now()

	first := headers[0]
	if _, ok := m.repo.BlockByHash(first.ParentHash); ok {
		m.evHandler("sync: HandleHeaders: peer[%s]: found common ancestor below height %d, requesting blocks", m.target.Host, first.Number)
		m.state = InitSyncGetBlocks
		return m.requester.RequestBlocks(m.target, first.Number)
	}

	m.windowFrom = retreatWindow(m.windowFrom)
	m.evHandler("sync: HandleHeaders: peer[%s]: parent still unknown, stepping back to %d", m.target.Host, m.windowFrom)
	return m.requester.RequestHeaders(m.target, m.windowFrom, headerBatchSize)
}

// HandleBlocks imports a batch of block bodies while in InitSyncGetBlocks.
// An empty batch signals the peer has nothing further, completing the
// sync; otherwise the batch is imported in arrival order and the sync
// stays in InitSyncGetBlocks awaiting the next batch.
func (m *Manager) HandleBlocks(blocks []database.Block, importBlock ImportFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != InitSyncGetBlocks {
		return nil
	}

	if len(blocks) == 0 {
		m.evHandler("sync: HandleBlocks: peer[%s]: no further blocks, sync completed", m.target.Host)
		m.state = InitSyncCompleted
		return nil
	}

	m.lastProgress = time.Now()

	for _, block := range blocks {
		if err := importBlock(block); err != nil {
			return fmt.Errorf("import synced block %d: %w", block.Header.Number, err)
		}
	}

	return nil
}

// CheckStuck reverts a sync that hasn't made progress in stuckTimeout back
// to Idle, so a peer that stalls doesn't wedge the state machine forever.
// It reports whether it did so.
func (m *Manager) CheckStuck(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Idle || m.state == InitSyncCompleted {
		return false
	}

	if now.Sub(m.lastProgress) < stuckTimeout {
		return false
	}

	m.evHandler("sync: CheckStuck: peer[%s]: no progress for %s, reverting to IDLE", m.target.Host, stuckTimeout)
	m.state = Idle
	return true
}

// Reset returns the state machine to Idle, for use once the manager has
// observed InitSyncCompleted and is ready to evaluate the next peer.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Idle
}

// =============================================================================

// initialWindow computes the first header request's starting height:
// bestHeight-ancestorSearchWindow+1, clamped to never go below 1.
func initialWindow(bestHeight uint64) uint64 {
	if bestHeight <= ancestorSearchWindow {
		return 1
	}
	return bestHeight - ancestorSearchWindow + 1
}

// retreatWindow steps an existing window start back by a further
// ancestorSearchWindow blocks, clamped to never go below 1.
func retreatWindow(from uint64) uint64 {
	if from <= ancestorSearchWindow {
		return 1
	}
	return from - ancestorSearchWindow
}

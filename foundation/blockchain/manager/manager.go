// Package manager is the central lifecycle object for a node: it owns the
// chain engine, the peer roster, the pending pool, and the miner-control
// flag, and arbitrates between mining and syncing. It is grounded on the
// teacher's state.State/worker pair, collapsed from a multi-goroutine
// signal-channel design into a single owning event-loop goroutine that
// network connections and external callers feed through channels, matching
// this system's single-writer concurrency model.
package manager

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/proofchain/powchain/foundation/blockchain/chain"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/dispatcher"
	"github.com/proofchain/powchain/foundation/blockchain/genesis"
	"github.com/proofchain/powchain/foundation/blockchain/mempool"
	"github.com/proofchain/powchain/foundation/blockchain/miner"
	"github.com/proofchain/powchain/foundation/blockchain/pairing"
	"github.com/proofchain/powchain/foundation/blockchain/peer"
	syncpkg "github.com/proofchain/powchain/foundation/blockchain/sync"
	"github.com/proofchain/powchain/foundation/blockchain/vm"
	"github.com/proofchain/powchain/foundation/blockchain/wire"
)

// peerSyncInterval is how often the manager re-evaluates every known peer
// for a STATUS refresh and a possible sync, mirroring the teacher's
// peerUpdateInterval polling cadence.
const peerSyncInterval = time.Minute

// stuckCheckInterval is how often an in-progress sync is checked for
// forward progress.
const stuckCheckInterval = 5 * time.Second

// EventHandler is called when events occur during processing; nil is
// replaced with a no-op.
type EventHandler func(v string, args ...any)

// Config carries everything the manager needs to bring a node up.
type Config struct {
	Coinbase        database.AccountID
	NodeID          string
	Host            string
	Genesis         genesis.Genesis
	Repo            database.Repository
	Executor        vm.Executor
	Checker         pairing.Checker
	KnownPeers      []string
	MempoolStrategy string
	EvHandler       EventHandler
}

type inboundMsg struct {
	env  wire.Envelope
	from peer.Peer
}

type submitRequest struct {
	tx     database.BlockTx
	result chan error
}

type connEvent struct {
	add    *peerConn
	remove string
}

// Manager is the single owning event loop. Chain import, mining, sync and
// message dispatch run on the manager's own goroutine, and submissions and
// connection changes reach it through channels. Some state is also read
// from other goroutines, relying on that state's own locking: Status and
// DialKnownPeers read the peer roster, Send and Broadcast use the
// connection table under connsMu, and the HTTP handlers reach the mempool
// and repository through Mempool and Repository.
type Manager struct {
	coinbase database.AccountID
	nodeID   string
	host     string
	genesis  genesis.Genesis
	repo     database.Repository

	chain   *chain.Chain
	syncMgr *syncpkg.Manager
	mempool *mempool.Mempool
	peers   *peer.Set
	miner   *miner.Miner
	disp    *dispatcher.Dispatcher

	evHandler EventHandler

	inbound     chan inboundMsg
	submissions chan submitRequest
	mineResults chan miner.MineResult
	connEvents  chan connEvent
	shutdown    chan struct{}
	done        chan struct{}

	connsMu sync.RWMutex
	conns   map[string]*peerConn

	mineHandle   *miner.MineHandle
	miningHeight uint64

	listener net.Listener
	wg       sync.WaitGroup
}

// New constructs a Manager ready to Run. It does not start listening or
// dialing peers; call Listen and DialKnownPeers once Run is underway.
func New(cfg Config) *Manager {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	pool, err := mempool.NewWithStrategy(cfg.MempoolStrategy)
	if err != nil {
		ev("manager: %s: falling back to FIFO selection", err)
		pool = mempool.New()
	}

	m := &Manager{
		coinbase:    cfg.Coinbase,
		nodeID:      cfg.NodeID,
		host:        cfg.Host,
		genesis:     cfg.Genesis,
		repo:        cfg.Repo,
		mempool:     pool,
		peers:       peer.NewSet(),
		miner:       miner.New(ev),
		evHandler:   ev,
		inbound:     make(chan inboundMsg, 64),
		submissions: make(chan submitRequest),
		mineResults: make(chan miner.MineResult, 1),
		connEvents:  make(chan connEvent, 8),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		conns:       make(map[string]*peerConn),
	}

	m.chain = chain.New(cfg.Repo, cfg.Executor, cfg.Checker, cfg.Genesis, ev)
	m.syncMgr = syncpkg.New(cfg.Repo, m, ev)
	m.disp = dispatcher.New(m.chain, cfg.Repo, m.syncMgr, m.mempool, m.peers, m, m, m.Status, ev)

	for _, host := range cfg.KnownPeers {
		m.peers.Add(peer.New(host))
	}

	return m
}

// Run drives the event loop until ctx is cancelled or Shutdown is called.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	peerTicker := time.NewTicker(peerSyncInterval)
	defer peerTicker.Stop()

	stuckTicker := time.NewTicker(stuckCheckInterval)
	defer stuckTicker.Stop()

	for {
		select {
		case msg := <-m.inbound:
			if err := m.disp.Dispatch(msg.env, msg.from); err != nil {
				m.evHandler("manager: Run: dispatch peer[%s] code[%s]: %s", msg.from.Host, msg.env.Code, err)
			}

		case req := <-m.submissions:
			req.result <- m.admitTransaction(req.tx)

		case res := <-m.mineResults:
			m.handleMineResult(res)

		case ev := <-m.connEvents:
			m.applyConnEvent(ev)

		case <-peerTicker.C:
			m.syncPeers()

		case <-stuckTicker.C:
			if m.syncMgr.CheckStuck(time.Now()) {
				m.evHandler("manager: Run: sync stuck, reverted to IDLE")
			}

		case <-ctx.Done():
			m.shutdownLocked()
			return

		case <-m.shutdown:
			m.shutdownLocked()
			return
		}
	}
}

// Shutdown stops the event loop and closes every connection. It blocks
// until Run has returned.
func (m *Manager) Shutdown() {
	select {
	case <-m.done:
		return
	default:
	}

	close(m.shutdown)
	<-m.done
}

func (m *Manager) shutdownLocked() {
	if m.listener != nil {
		m.listener.Close()
	}

	m.connsMu.Lock()
	for host, pc := range m.conns {
		pc.close()
		delete(m.conns, host)
	}
	m.connsMu.Unlock()

	if m.mineHandle != nil {
		m.mineHandle.Cancel()
		m.mineHandle = nil
	}

	m.wg.Wait()
}

// SubmitTransaction admits a user-supplied transaction into the pending
// pool. It is safe to call from any goroutine.
func (m *Manager) SubmitTransaction(tx database.BlockTx) error {
	req := submitRequest{tx: tx, result: make(chan error, 1)}

	select {
	case m.submissions <- req:
	case <-m.done:
		return fmt.Errorf("manager has shut down")
	}

	return <-req.result
}

func (m *Manager) admitTransaction(tx database.BlockTx) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	if _, err := m.mempool.Upsert(tx); err != nil {
		return err
	}

	m.Broadcast(wire.NewTransactions, dispatcher.NewTransactionsPayload{Trans: []database.BlockTx{tx}}, "")

	return nil
}

// Status reports this node's current STATUS payload. The repository is
// safe for concurrent reads, so this may be called from any goroutine.
func (m *Manager) Status() peer.Status {
	best := m.repo.BestBlockInfo()

	// Genesis is never materialized as a stored Block (height 0 is the
	// implicit, zero-valued parent of every height-1 block; see
	// chain.Chain's use of the same zero value in its tests), so its hash
	// is the fixed hash of the zero-valued Block rather than a lookup.
	var genesisBlock database.Block

	return peer.Status{
		NodeID:          m.nodeID,
		ProtocolVersion: 1,
		NetworkID:       uint64(m.genesis.ChainID),
		BestHash:        best.Hash,
		GenesisHash:     genesisBlock.Hash(),
		TotalDifficulty: best.TotalDifficulty,
		KnownPeers:      m.peers.Copy(""),
	}
}

// Mempool exposes a read-only view for HTTP handlers.
func (m *Manager) Mempool() *mempool.Mempool {
	return m.mempool
}

// Repository exposes the repository handle for HTTP handlers.
func (m *Manager) Repository() database.Repository {
	return m.repo
}

// Chain exposes the chain engine for HTTP handlers that query import state.
func (m *Manager) Chain() *chain.Chain {
	return m.chain
}

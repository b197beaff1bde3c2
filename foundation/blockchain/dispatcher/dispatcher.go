// Package dispatcher routes decoded peer messages to the chain engine, the
// sync manager, the pending pool, or the peer roster, matching the
// per-code routing table the wire protocol defines. It is grounded on the
// teacher's HTTP handler layer (app/services/node/handlers/v1/private),
// generalized from one handler function per REST route to one switch over
// a wire.Code, since this node talks to peers over framed connections
// instead of HTTP.
package dispatcher

import (
	"fmt"

	"github.com/proofchain/powchain/foundation/blockchain/chain"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/mempool"
	"github.com/proofchain/powchain/foundation/blockchain/peer"
	"github.com/proofchain/powchain/foundation/blockchain/sync"
	"github.com/proofchain/powchain/foundation/blockchain/wire"
)

// MinerControl is the slice of the manager's mining control surface the
// dispatcher needs: starting and stopping are whole-operation decisions,
// while CancelIfHeightAtMost only cancels an in-flight attempt that a
// newly imported best block has already overtaken.
type MinerControl interface {
	StartMining()
	StopMining()
	CancelIfHeightAtMost(height uint64)
}

// Transport is how the dispatcher talks back to peers: Send replies to the
// one peer a message came from, Broadcast fans a message out to every peer
// except the one excluded by host.
type Transport interface {
	Send(to peer.Peer, code wire.Code, payload any) error
	Broadcast(code wire.Code, payload any, excludeHost string)
}

// =============================================================================

// NodesPayload carries a batch of peer addresses for GET_NODES/NODES.
type NodesPayload struct {
	Peers []peer.Peer `json:"peers"`
}

// NewTransactionsPayload carries a batch of signed transactions offered to
// the pending pool.
type NewTransactionsPayload struct {
	Trans []database.BlockTx `json:"trans"`
}

// NewBlockPayload carries one freshly mined or imported block.
type NewBlockPayload struct {
	Block database.BlockData `json:"block"`
}

// BlockRangePayload requests headers or bodies for heights [From, From+Count).
type BlockRangePayload struct {
	From  uint64 `json:"from"`
	Count uint64 `json:"count"`
}

// BlocksPayload carries a batch of full block bodies.
type BlocksPayload struct {
	Blocks []database.BlockData `json:"blocks"`
}

// BlockHeadersPayload carries a batch of block headers.
type BlockHeadersPayload struct {
	Headers []database.BlockHeader `json:"headers"`
}

// =============================================================================

// Dispatcher routes one decoded wire message at a time. A Dispatcher is
// safe for concurrent use to the extent its collaborators are; the manager
// is expected to drive Dispatch from its single owning goroutine.
type Dispatcher struct {
	chain     *chain.Chain
	repo      database.Repository
	syncMgr   *sync.Manager
	mempool   *mempool.Mempool
	peers     *peer.Set
	miner     MinerControl
	transport Transport
	status    func() peer.Status
	evHandler func(v string, args ...any)
}

// New constructs a Dispatcher. status returns this node's own current
// STATUS payload, built fresh on demand so it always reflects the latest
// chain state.
func New(c *chain.Chain, repo database.Repository, syncMgr *sync.Manager, mp *mempool.Mempool, peers *peer.Set, miner MinerControl, transport Transport, status func() peer.Status, evHandler func(v string, args ...any)) *Dispatcher {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &Dispatcher{
		chain:     c,
		repo:      repo,
		syncMgr:   syncMgr,
		mempool:   mp,
		peers:     peers,
		miner:     miner,
		transport: transport,
		status:    status,
		evHandler: evHandler,
	}
}

// Dispatch routes one decoded message from a peer. from identifies the
// connection the message arrived on. Per-message decode and handling
// errors are logged and swallowed rather than returned, since a single
// malformed frame must never tear down the connection; only a transport
// failure while replying is propagated.
func (d *Dispatcher) Dispatch(env wire.Envelope, from peer.Peer) error {
	switch env.Code {
	case wire.Status:
		return d.handleStatus(env, from)
	case wire.GetNodes:
		return d.handleGetNodes(from)
	case wire.Nodes:
		d.handleNodes(env)
		return nil
	case wire.NewTransactions:
		d.handleNewTransactions(env)
		return nil
	case wire.NewBlock:
		return d.handleNewBlock(env, from)
	case wire.GetBlocks:
		return d.handleGetBlocks(env, from)
	case wire.GetBlockHeaders:
		return d.handleGetBlockHeaders(env, from)
	case wire.Blocks:
		d.handleBlocks(env)
		return nil
	case wire.BlockHeaders:
		d.handleBlockHeaders(env)
		return nil
	case wire.Disconnect:
		d.handleDisconnect(from)
		return nil
	default:
		d.evHandler("dispatcher: Dispatch: unknown code %d, dropping frame", env.Code)
		return nil
	}
}

// =============================================================================

func (d *Dispatcher) handleStatus(env wire.Envelope, from peer.Peer) error {
	var st peer.Status
	if err := wire.DecodePayload(env, &st); err != nil {
		d.evHandler("dispatcher: handleStatus: peer[%s]: decode error: %s", from.Host, err)
		return nil
	}

	d.peers.Update(from.Host, st)

	ours := d.repo.BestBlockInfo()
	if st.TotalDifficulty > ours.TotalDifficulty {
		d.evHandler("dispatcher: handleStatus: peer[%s]: ahead of us, total[%d] vs ours[%d]: stopping mining, starting sync", from.Host, st.TotalDifficulty, ours.TotalDifficulty)
		d.miner.StopMining()
		return d.syncMgr.Evaluate(peer.Peer{Host: from.Host, TotalDifficulty: st.TotalDifficulty, BestHash: st.BestHash})
	}

	d.evHandler("dispatcher: handleStatus: peer[%s]: not ahead of us: starting mining", from.Host)
	d.miner.StartMining()
	return nil
}

func (d *Dispatcher) handleGetNodes(from peer.Peer) error {
	return d.transport.Send(from, wire.Nodes, NodesPayload{Peers: d.peers.Copy(from.Host)})
}

func (d *Dispatcher) handleNodes(env wire.Envelope) {
	var payload NodesPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		d.evHandler("dispatcher: handleNodes: decode error: %s", err)
		return
	}

	for _, p := range payload.Peers {
		if d.peers.Add(p) {
			d.evHandler("dispatcher: handleNodes: learned new peer[%s]", p.Host)
		}
	}
}

func (d *Dispatcher) handleNewTransactions(env wire.Envelope) {
	var payload NewTransactionsPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		d.evHandler("dispatcher: handleNewTransactions: decode error: %s", err)
		return
	}

	for _, tx := range payload.Trans {
		if err := tx.Validate(); err != nil {
			d.evHandler("dispatcher: handleNewTransactions: rejecting invalid transaction: %s", err)
			continue
		}

		if _, err := d.mempool.Upsert(tx); err != nil {
			d.evHandler("dispatcher: handleNewTransactions: unable to admit transaction: %s", err)
		}
	}
}

func (d *Dispatcher) handleNewBlock(env wire.Envelope, from peer.Peer) error {
	var payload NewBlockPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		d.evHandler("dispatcher: handleNewBlock: peer[%s]: decode error: %s", from.Host, err)
		return nil
	}

	block, err := database.ToBlock(payload.Block)
	if err != nil {
		d.evHandler("dispatcher: handleNewBlock: peer[%s]: malformed block: %s", from.Host, err)
		return nil
	}

	result, err := d.chain.ImportBlock(block)
	if err != nil {
		d.evHandler("dispatcher: handleNewBlock: peer[%s]: blk[%d]: import error: %s", from.Host, block.Header.Number, err)
		return nil
	}

	d.evHandler("dispatcher: handleNewBlock: peer[%s]: blk[%d]: %s", from.Host, block.Header.Number, result)

	if result != chain.BestBlock {
		return nil
	}

	d.mempool.Purge(block.Trans.Values())
	d.miner.CancelIfHeightAtMost(block.Header.Number)
	d.transport.Broadcast(wire.NewBlock, payload, from.Host)

	return nil
}

func (d *Dispatcher) handleGetBlocks(env wire.Envelope, from peer.Peer) error {
	var payload BlockRangePayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		d.evHandler("dispatcher: handleGetBlocks: peer[%s]: decode error: %s", from.Host, err)
		return nil
	}

	var blocks []database.BlockData
	for h := payload.From; h < payload.From+payload.Count; h++ {
		block, ok := d.repo.BlockByNumber(h)
		if !ok {
			break
		}
		blocks = append(blocks, database.NewBlockData(block))
	}

	return d.transport.Send(from, wire.Blocks, BlocksPayload{Blocks: blocks})
}

func (d *Dispatcher) handleGetBlockHeaders(env wire.Envelope, from peer.Peer) error {
	var payload BlockRangePayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		d.evHandler("dispatcher: handleGetBlockHeaders: peer[%s]: decode error: %s", from.Host, err)
		return nil
	}

	var headers []database.BlockHeader
	for h := payload.From; h < payload.From+payload.Count; h++ {
		block, ok := d.repo.BlockByNumber(h)
		if !ok {
			break
		}
		headers = append(headers, block.Header)
	}

	return d.transport.Send(from, wire.BlockHeaders, BlockHeadersPayload{Headers: headers})
}

func (d *Dispatcher) handleBlocks(env wire.Envelope) {
	var payload BlocksPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		d.evHandler("dispatcher: handleBlocks: decode error: %s", err)
		return
	}

	var blocks []database.Block
	for _, bd := range payload.Blocks {
		block, err := database.ToBlock(bd)
		if err != nil {
			d.evHandler("dispatcher: handleBlocks: malformed block: %s", err)
			return
		}
		blocks = append(blocks, block)
	}

	if d.syncMgr.State() == sync.InitSyncGetBlocks {
		if err := d.syncMgr.HandleBlocks(blocks, d.importSyncedBlock); err != nil {
			d.evHandler("dispatcher: handleBlocks: sync import error: %s", err)
		}
		return
	}

	for _, block := range blocks {
		if err := d.importSyncedBlock(block); err != nil {
			d.evHandler("dispatcher: handleBlocks: blk[%d]: import error: %s", block.Header.Number, err)
		}
	}
}

func (d *Dispatcher) handleBlockHeaders(env wire.Envelope) {
	var payload BlockHeadersPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		d.evHandler("dispatcher: handleBlockHeaders: decode error: %s", err)
		return
	}

	if d.syncMgr.State() != sync.InitSyncGetHeaders {
		d.evHandler("dispatcher: handleBlockHeaders: received headers outside a header sync, dropping")
		return
	}

	if err := d.syncMgr.HandleHeaders(payload.Headers); err != nil {
		d.evHandler("dispatcher: handleBlockHeaders: sync error: %s", err)
	}
}

func (d *Dispatcher) handleDisconnect(from peer.Peer) {
	d.evHandler("dispatcher: handleDisconnect: peer[%s]: removing from roster", from.Host)
	d.peers.Remove(from.Host)
}

// importSyncedBlock imports one block and reports the outcome as an error
// for anything worse than EXIST/BEST_BLOCK/NON_BEST_BLOCK, matching the
// ImportFunc signature sync.Manager.HandleBlocks expects.
func (d *Dispatcher) importSyncedBlock(block database.Block) error {
	result, err := d.chain.ImportBlock(block)
	if err != nil {
		return err
	}
	if result == chain.Invalid {
		return fmt.Errorf("blk[%d]: rejected as invalid", block.Header.Number)
	}
	return nil
}

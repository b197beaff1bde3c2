package manager

import (
	"context"
	"time"

	"github.com/proofchain/powchain/foundation/blockchain/chain"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/dispatcher"
	"github.com/proofchain/powchain/foundation/blockchain/miner"
	"github.com/proofchain/powchain/foundation/blockchain/sync"
	"github.com/proofchain/powchain/foundation/blockchain/wire"
)

// StartMining begins a mining attempt if one isn't already running and no
// sync is in progress. It implements dispatcher.MinerControl and is only
// ever called from the manager's own goroutine.
func (m *Manager) StartMining() {
	if m.mineHandle != nil {
		return
	}

	if state := m.syncMgr.State(); state != sync.Idle && state != sync.InitSyncCompleted {
		m.evHandler("manager: StartMining: sync in progress, no-op")
		return
	}

	trans := m.mempool.PickBest(int(m.genesis.TransPerBlock))
	if len(trans) == 0 {
		m.evHandler("manager: StartMining: no pending transactions, no-op")
		return
	}

	parent := m.chain.BestBlock()
	now := uint64(time.Now().Unix())

	candidate := miner.Candidate{
		Parent:     parent,
		Coinbase:   m.coinbase,
		Trans:      trans,
		Difficulty: m.chain.CalculateBlockDifficulty(parent, now),
	}

	results, handle := m.miner.Start(context.Background(), candidate)
	if results == nil {
		return
	}

	m.mineHandle = handle
	m.miningHeight = parent.Header.Number + 1

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res, ok := <-results
		if !ok {
			return
		}
		select {
		case m.mineResults <- res:
		case <-m.done:
		}
	}()

	m.evHandler("manager: StartMining: started, height[%d]", m.miningHeight)
}

// StopMining cancels an in-flight mining attempt, if any.
func (m *Manager) StopMining() {
	if m.mineHandle == nil {
		return
	}

	m.evHandler("manager: StopMining: cancelling, height[%d]", m.miningHeight)
	m.mineHandle.Cancel()
	m.mineHandle = nil
}

// CancelIfHeightAtMost cancels an in-flight mining attempt only if a newly
// imported best block has already overtaken the height it targets.
func (m *Manager) CancelIfHeightAtMost(height uint64) {
	if m.mineHandle == nil || m.miningHeight > height {
		return
	}

	m.evHandler("manager: CancelIfHeightAtMost: overtaken height[%d], cancelling", m.miningHeight)
	m.mineHandle.Cancel()
	m.mineHandle = nil
}

// handleMineResult processes the outcome of a mining attempt, run from
// Run's select loop once the forwarding goroutine delivers it.
func (m *Manager) handleMineResult(res miner.MineResult) {
	m.mineHandle = nil

	if !res.Success {
		m.evHandler("manager: handleMineResult: attempt did not succeed")
		return
	}

	result, err := m.chain.ImportBlock(res.Block)
	if err != nil {
		m.evHandler("manager: handleMineResult: blk[%d]: import error: %s", res.Block.Header.Number, err)
		return
	}

	m.evHandler("manager: handleMineResult: blk[%d]: %s", res.Block.Header.Number, result)

	if result == chain.BestBlock {
		m.mempool.Purge(res.Block.Trans.Values())
		m.Broadcast(wire.NewBlock, dispatcher.NewBlockPayload{Block: database.NewBlockData(res.Block)}, "")
	}

	if m.mempool.Count() >= int(m.genesis.TransPerBlock) {
		m.StartMining()
	}
}

// Package chain implements block validation, import, and fork-choice: the
// engine that decides whether an incoming block extends, replaces, or is
// rejected from the canonical chain, and that composes the next candidate
// block for the miner. It is grounded on the teacher's block.ValidateBlock
// checks and state.MineNewBlock/MinePeerBlock flow, generalized to support
// genuine multi-branch fork resolution by total difficulty instead of the
// teacher's "truncate and resync" shortcut.
package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/difficulty"
	"github.com/proofchain/powchain/foundation/blockchain/genesis"
	"github.com/proofchain/powchain/foundation/blockchain/pairing"
	"github.com/proofchain/powchain/foundation/blockchain/vm"
)

// ImportResult reports the outcome of importing a block.
type ImportResult int

// The set of outcomes importBlock may report.
const (
	Invalid ImportResult = iota
	Exist
	NonBestBlock
	BestBlock
)

// String implements fmt.Stringer.
func (r ImportResult) String() string {
	switch r {
	case Exist:
		return "EXIST"
	case NonBestBlock:
		return "NON_BEST_BLOCK"
	case BestBlock:
		return "BEST_BLOCK"
	default:
		return "INVALID"
	}
}

// =============================================================================

// Chain owns the repository handle and the best-block cursor: all chain
// mutation happens through it, on the manager's single owning goroutine.
type Chain struct {
	mu sync.Mutex

	repo    database.Repository
	exec    vm.Executor
	checker pairing.Checker
	genesis genesis.Genesis

	evHandler func(v string, args ...any)
}

// New constructs a Chain. exec and checker may be vm.NullExecutor{} and
// pairing.NullChecker{} when no additional rules are configured.
func New(repo database.Repository, exec vm.Executor, checker pairing.Checker, gen genesis.Genesis, evHandler func(v string, args ...any)) *Chain {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &Chain{
		repo:      repo,
		exec:      exec,
		checker:   checker,
		genesis:   gen,
		evHandler: evHandler,
	}
}

// BestBlock returns the current main-chain tip.
func (c *Chain) BestBlock() database.Block {
	return c.repo.BestBlock()
}

// =============================================================================

// ImportBlock validates and, if valid, records block, promoting it to the
// main chain if its total difficulty exceeds the current best.
func (c *Chain) ImportBlock(block database.Block) (ImportResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := block.Hash()

	c.evHandler("chain: ImportBlock: blk[%d]: check: already known", block.Header.Number)
	if _, exists := c.repo.BlockByHash(hash); exists {
		return Exist, nil
	}

	parent, ok := c.repo.BlockByHash(block.Header.ParentHash)
	if !ok && block.Header.Number != 1 {
		return Invalid, fmt.Errorf("unknown parent %s for block %d", block.Header.ParentHash, block.Header.Number)
	}

	c.evHandler("chain: ImportBlock: blk[%d]: validate against parent", block.Header.Number)
	if err := block.ValidateBlock(parent, c.evHandler); err != nil {
		return Invalid, err
	}

	if err := c.checker.CheckBlock(block); err != nil {
		return Invalid, fmt.Errorf("block rejected by pairing check: %w", err)
	}

	c.evHandler("chain: ImportBlock: blk[%d]: validate transactions", block.Header.Number)
	seenNonce := make(map[database.AccountID]uint64)
	for _, tx := range block.Trans.Values() {
		if err := tx.Validate(); err != nil {
			return Invalid, fmt.Errorf("invalid transaction signature: %w", err)
		}

		from, err := tx.FromAccount()
		if err != nil {
			return Invalid, err
		}

		if last, seen := seenNonce[from]; seen && tx.Nonce <= last {
			return Invalid, fmt.Errorf("non-monotonic nonce for %s within block, got %d after %d", from, tx.Nonce, last)
		}
		seenNonce[from] = tx.Nonce

		if err := c.checker.CheckTransaction(tx); err != nil {
			return Invalid, fmt.Errorf("transaction rejected by pairing check: %w", err)
		}
	}

	if err := c.repo.PutBlock(block); err != nil {
		return Invalid, err
	}

	best := c.repo.BestBlockInfo()

	c.evHandler("chain: ImportBlock: blk[%d]: total[%d] vs best total[%d]", block.Header.Number, block.Header.TotalDifficulty, best.TotalDifficulty)
	if block.Header.TotalDifficulty <= best.TotalDifficulty {
		return NonBestBlock, nil
	}

	if err := c.reorgTo(block); err != nil {
		return Invalid, fmt.Errorf("reorg to new best block failed: %w", err)
	}

	return BestBlock, nil
}

// reorgTo makes tip the new main-chain head: it walks tip's ancestry back
// to genesis, resets the account world-state, and replays every block on
// that path forward through the executor, flipping each height's IsMain
// flag to the replayed block. Heights above tip's height that were main
// under the abandoned branch are demoted with no replacement. Caller must
// hold c.mu.
func (c *Chain) reorgTo(tip database.Block) error {
	c.evHandler("chain: reorgTo: blk[%d]: started", tip.Header.Number)
	defer c.evHandler("chain: reorgTo: blk[%d]: completed", tip.Header.Number)

	path, err := c.branchFromGenesis(tip)
	if err != nil {
		return err
	}

	abandonedMax := c.repo.MaxKnownHeight()

	if err := c.repo.ResetAccounts(); err != nil {
		return err
	}

	ctx := context.Background()

	for _, block := range path {
		for _, tx := range block.Trans.Values() {
			if _, err := c.exec.Execute(ctx, c.repo, block, tx); err != nil {
				return fmt.Errorf("execute tx in block %d: %w", block.Header.Number, err)
			}
			if err := c.repo.ApplyTransaction(block, tx); err != nil {
				return fmt.Errorf("apply tx in block %d: %w", block.Header.Number, err)
			}
		}
		c.repo.ApplyMiningReward(block)

		if err := c.repo.SetMain(block.Header.Number, block.Hash()); err != nil {
			return err
		}
	}

	for h := tip.Header.Number + 1; h <= abandonedMax; h++ {
		c.repo.ClearMain(h)
	}

	return nil
}

// branchFromGenesis walks tip's ancestry back to the block at height 1 and
// returns the path in genesis-to-tip order.
func (c *Chain) branchFromGenesis(tip database.Block) ([]database.Block, error) {
	var reversed []database.Block

	cur := tip
	for {
		reversed = append(reversed, cur)
		if cur.Header.Number <= 1 {
			break
		}

		parent, ok := c.repo.BlockByHash(cur.Header.ParentHash)
		if !ok {
			return nil, fmt.Errorf("missing ancestor %s for block %d", cur.Header.ParentHash, cur.Header.Number)
		}
		cur = parent
	}

	path := make([]database.Block, len(reversed))
	for i, block := range reversed {
		path[len(reversed)-1-i] = block
	}

	return path, nil
}

// =============================================================================

// GenerateNewBlock composes the next candidate block on top of the current
// best block from the given pending transactions. The returned block's
// nonce and totalDifficulty are left zero for the miner to fill in.
func (c *Chain) GenerateNewBlock(coinbase database.AccountID, trans []database.BlockTx) (database.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent := c.repo.BestBlock()

	block, err := database.NewBlock(coinbase, 0, parent, trans)
	if err != nil {
		return database.Block{}, err
	}

	block.Header.Difficulty = c.CalculateBlockDifficulty(parent, block.Header.TimeStamp)

	return block, nil
}

// CalculateBlockDifficulty returns the difficulty a block timestamped
// blockTime, built on top of parent, should target, per the fixed
// bounded-adjustment retarget rule. For the first block after genesis, the
// genesis-configured difficulty is used unchanged since there is no parent
// spacing to measure.
func (c *Chain) CalculateBlockDifficulty(parent database.Block, blockTime uint64) difficulty.Compact {
	if parent.Header.Number == 0 {
		return c.genesis.Difficulty
	}

	return difficulty.Retarget(parent.Header.Difficulty, int64(parent.Header.TimeStamp), int64(blockTime), parent.Header.Number+1)
}

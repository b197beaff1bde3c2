// Package miner performs the proof-of-work search: given a candidate
// block body, it searches for a nonce whose double-SHA256 header hash
// satisfies the declared difficulty target. It is grounded on the
// teacher's performPOW nonce-search loop, generalized to run as a
// cancellable, restartable background operation instead of a single
// blocking call.
package miner

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"sync/atomic"

	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/difficulty"
)

// attemptsLogInterval controls how often the event handler is told about
// mining progress, mirroring the teacher's 1,000,000-attempt cadence.
const attemptsLogInterval = 1_000_000

// nonceSpace is the number of distinct values a uint32 nonce can take.
// The search has exhausted every nonce once attempts reaches this count.
const nonceSpace = uint64(1) << 32

// Candidate describes the block body the miner should search a nonce for.
// mine builds the block with database.NewBlock, which derives Number and
// ParentHash from Parent, and then sets TotalDifficulty to Parent's total
// plus Difficulty's raw value.
type Candidate struct {
	Parent     database.Block
	Coinbase   database.AccountID
	Trans      []database.BlockTx
	Difficulty difficulty.Compact
	Timestamp  uint64
}

// MineResult reports the outcome of one mining attempt.
type MineResult struct {
	Success    bool
	Difficulty difficulty.Compact
	Nonce      uint32
	Block      database.Block
}

// MineHandle lets a caller cancel an in-flight mining operation and learn
// when it has actually stopped.
type MineHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel requests the mining operation stop, then blocks until the
// underlying goroutine has actually returned.
func (h *MineHandle) Cancel() {
	h.cancel()
	<-h.done
}

// =============================================================================

// Miner searches for proof-of-work solutions. A Miner instance is safe for
// concurrent use, but only one mining operation may be in flight at a time;
// starting a second while the first is still running returns a nil handle.
type Miner struct {
	working   atomic.Bool
	evHandler func(v string, args ...any)
}

// New constructs a Miner. evHandler may be nil.
func New(evHandler func(v string, args ...any)) *Miner {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &Miner{evHandler: evHandler}
}

// Working reports whether a mining operation is currently in flight.
func (m *Miner) Working() bool {
	return m.working.Load()
}

// Start launches a mining search for candidate on its own goroutine and
// returns a channel that receives exactly one MineResult before closing,
// plus a handle the caller can use to cancel the search early. Start
// returns a nil channel and nil handle if a mining operation is already
// running.
func (m *Miner) Start(ctx context.Context, candidate Candidate) (<-chan MineResult, *MineHandle) {
	if !m.working.CompareAndSwap(false, true) {
		m.evHandler("miner: Start: already working, ignoring request")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	results := make(chan MineResult, 1)
	done := make(chan struct{})

	go func() {
		defer func() {
			cancel()
			m.working.Store(false)
			close(done)
			close(results)
		}()

		results <- m.mine(ctx, candidate)
	}()

	return results, &MineHandle{cancel: cancel, done: done}
}

// mine performs the nonce search described by spec, returning a
// MineResult that reports success or a clean cancellation.
func (m *Miner) mine(ctx context.Context, candidate Candidate) MineResult {
	m.evHandler("miner: mine: started")
	defer m.evHandler("miner: mine: completed")

	block, err := database.NewBlock(candidate.Coinbase, candidate.Difficulty, candidate.Parent, candidate.Trans)
	if err != nil {
		m.evHandler("miner: mine: ERROR: unable to construct candidate block: %s", err)
		return MineResult{}
	}
	if candidate.Timestamp != 0 {
		block.Header.TimeStamp = candidate.Timestamp
	}
	block.Header.TotalDifficulty = candidate.Parent.Header.TotalDifficulty + candidate.Difficulty.ToRaw()

	for _, tx := range block.Trans.Values() {
		m.evHandler("miner: mine: tx[%s]", tx)
	}

	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt32))
	if err != nil {
		return MineResult{}
	}
	block.Header.Nonce = uint32(nBig.Uint64())

	var attempts uint64
	for {
		attempts++
		if attempts%attemptsLogInterval == 0 {
			m.evHandler("miner: mine: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			m.evHandler("miner: mine: CANCELLED")
			return MineResult{}
		}

		if block.Satisfies() {
			if ctx.Err() != nil {
				m.evHandler("miner: mine: CANCELLED")
				return MineResult{}
			}

			m.evHandler("miner: mine: SOLVED: parent[%s]: block[%s]: attempts[%d]", block.Header.ParentHash, block.Hash(), attempts)

			return MineResult{
				Success:    true,
				Difficulty: candidate.Difficulty,
				Nonce:      block.Header.Nonce,
				Block:      block,
			}
		}

		// nonceSpace is every value a uint32 nonce can take. Once attempts
		// reaches it, every nonce has been tried exactly once (the search
		// wraps on overflow) with no solution at this timestamp/difficulty,
		// so the caller needs a refreshed candidate rather than a spin
		// that never terminates.
		if attempts >= nonceSpace {
			m.evHandler("miner: mine: EXHAUSTED: parent[%s]: attempts[%d]", block.Header.ParentHash, attempts)

			return MineResult{
				Success:    false,
				Difficulty: candidate.Difficulty,
				Nonce:      block.Header.Nonce,
			}
		}

		block.Header.Nonce++
	}
}

package chain_test

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/proofchain/powchain/foundation/blockchain/chain"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/difficulty"
	"github.com/proofchain/powchain/foundation/blockchain/genesis"
	"github.com/proofchain/powchain/foundation/blockchain/miner"
	"github.com/proofchain/powchain/foundation/blockchain/pairing"
	"github.com/proofchain/powchain/foundation/blockchain/vm"
)

const (
	success = "✓"
	failed  = "✗"
)

// chainBDifficulty is deliberately harder than difficulty.MinDifficulty so a
// short chain mined against it can out-total a longer chain mined against
// the minimum, the setup scenario 3 calls for.
const chainBDifficulty = difficulty.Compact(0x1f001000)

const coinbase database.AccountID = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
const recipient database.AccountID = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"

// signedTx builds a funded sender's transaction at the given nonce, so
// every mined test block carries at least one transaction (the merkle
// tree implementation rejects an empty leaf set).
func signedTx(t *testing.T, nonce uint64) database.BlockTx {
	t.Helper()

	pk, err := crypto.HexToECDSA("fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959")
	if err != nil {
		t.Fatalf("\t%s\tShould be able to parse the test private key: %v", failed, err)
	}

	tx, err := database.NewTx(nonce, recipient, 10, 1, 21, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
	}

	signed, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
	}

	return database.NewBlockTx(signed, 1, 21)
}

// memSerializer is an in-memory database.Serializer for tests that don't
// care about disk persistence.
type memSerializer struct {
	blocks []database.BlockData
}

func (m *memSerializer) Write(b database.BlockData) error {
	m.blocks = append(m.blocks, b)
	return nil
}

func (m *memSerializer) GetBlock(num uint64) (database.BlockData, error) {
	for _, b := range m.blocks {
		if b.Header.Number == num {
			return b, nil
		}
	}
	return database.BlockData{}, fs.ErrNotExist
}

func (m *memSerializer) ForEach() database.Iterator {
	return &memIterator{m: m}
}

func (m *memSerializer) Close() error { return nil }

func (m *memSerializer) Reset() error {
	m.blocks = nil
	return nil
}

type memIterator struct {
	m       *memSerializer
	current int
}

func (i *memIterator) Next() (database.BlockData, error) {
	if i.current >= len(i.m.blocks) {
		return database.BlockData{}, nil
	}
	b := i.m.blocks[i.current]
	i.current++
	return b, nil
}

func (i *memIterator) Done() bool {
	return i.current >= len(i.m.blocks)
}

// =============================================================================

func newChain(t *testing.T) (*chain.Chain, database.Repository) {
	t.Helper()

	repo, err := database.New(genesis.Genesis{Balances: map[string]uint64{
		"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4": 1_000_000,
	}}, &memSerializer{}, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open repository: %v", failed, err)
	}

	return chain.New(repo, vm.NullExecutor{}, pairing.NullChecker{}, genesis.Genesis{}, nil), repo
}

// mineOn mines a single block carrying trans on top of parent at the given
// difficulty and fails the test if mining doesn't succeed within a
// generous window.
func mineOn(t *testing.T, diff difficulty.Compact, parent database.Block, trans []database.BlockTx) database.Block {
	t.Helper()

	m := miner.New(nil)
	candidate := miner.Candidate{
		Parent:     parent,
		Coinbase:   coinbase,
		Difficulty: diff,
		Trans:      trans,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, handle := m.Start(ctx, candidate)
	if results == nil {
		t.Fatalf("\t%s\tShould be able to start mining.", failed)
	}

	result := <-results
	handle.Cancel()

	if !result.Success {
		t.Fatalf("\t%s\tShould successfully mine the block.", failed)
	}

	return result.Block
}

// =============================================================================

func Test_ForkSwitch(t *testing.T) {
	t.Log("Given chain A (length 3, easy difficulty) and chain B (length 2, harder difficulty) sharing genesis.")
	{
		c, repo := newChain(t)

		var genesisBlock database.Block // height 0, the implicit parent of every height-1 block.

		a1 := mineOn(t, difficulty.MinDifficulty, genesisBlock, []database.BlockTx{signedTx(t, 1)})
		a2 := mineOn(t, difficulty.MinDifficulty, a1, []database.BlockTx{signedTx(t, 2)})
		a3 := mineOn(t, difficulty.MinDifficulty, a2, []database.BlockTx{signedTx(t, 3)})

		for _, b := range []database.Block{a1, a2, a3} {
			result, err := c.ImportBlock(b)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to import chain A block %d: %v", failed, b.Header.Number, err)
			}
			if result != chain.BestBlock {
				t.Fatalf("\t%s\tShould report chain A block %d as the new best block, got %s.", failed, b.Header.Number, result)
			}
		}
		t.Logf("\t%s\tShould import all of chain A as the best chain.", success)

		if repo.BestBlock().Hash() != a3.Hash() {
			t.Fatalf("\t%s\tShould have chain A's tip as best after importing only chain A.", failed)
		}

		b1 := mineOn(t, chainBDifficulty, genesisBlock, []database.BlockTx{signedTx(t, 1)})
		b2 := mineOn(t, chainBDifficulty, b1, []database.BlockTx{signedTx(t, 2)})

		resultB1, err := c.ImportBlock(b1)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to import chain B block 1: %v", failed, err)
		}
		if resultB1 != chain.BestBlock {
			t.Fatalf("\t%s\tShould switch best to chain B's block 1 once its total difficulty exceeds chain A's, got %s.", failed, resultB1)
		}
		t.Logf("\t%s\tShould switch best to chain B block 1.", success)

		resultB2, err := c.ImportBlock(b2)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to import chain B block 2: %v", failed, err)
		}
		if resultB2 != chain.BestBlock {
			t.Fatalf("\t%s\tShould keep chain B's tip as best, got %s.", failed, resultB2)
		}
		t.Logf("\t%s\tShould switch best to chain B block 2.", success)

		if repo.BestBlock().Hash() != b2.Hash() {
			t.Fatalf("\t%s\tShould have chain B's tip as the final best block.", failed)
		}
		t.Logf("\t%s\tShould have chain B's tip as the final best block.", success)

		infos1 := repo.BlockInfosByHeight(1)
		mainAt1 := mainHash(infos1)
		if mainAt1 != b1.Hash() {
			t.Fatalf("\t%s\tShould mark chain B's block 1 as main at height 1, got main=%s.", failed, mainAt1)
		}
		t.Logf("\t%s\tShould flip height 1's main block to chain B.", success)

		infos3 := repo.BlockInfosByHeight(3)
		if mainHash(infos3) != "" {
			t.Fatalf("\t%s\tShould leave height 3 with no main block once chain B's shorter branch wins.", failed)
		}
		t.Logf("\t%s\tShould leave height 3 without a main block since chain B never reached it.", success)

		for _, info := range infos3 {
			if info.Hash == a3.Hash() && info.IsMain {
				t.Fatalf("\t%s\tShould have demoted chain A's abandoned block 3.", failed)
			}
		}
		t.Logf("\t%s\tShould have demoted chain A's abandoned block 3.", success)
	}
}

func Test_Tie(t *testing.T) {
	t.Log("Given two competing chains of equal total difficulty sharing genesis.")
	{
		c, repo := newChain(t)

		var genesisBlock database.Block

		// x and y use different transactions so their Merkle roots (and so
		// their mining preimages and hashes) differ even though they share
		// a parent and difficulty; otherwise two independent minings of an
		// identical preimage can converge on the same nonce.
		x := mineOn(t, difficulty.MinDifficulty, genesisBlock, []database.BlockTx{signedTx(t, 1)})
		y := mineOn(t, difficulty.MinDifficulty, genesisBlock, []database.BlockTx{signedTx(t, 2)})

		resultX, err := c.ImportBlock(x)
		if err != nil || resultX != chain.BestBlock {
			t.Fatalf("\t%s\tShould import the first tip as best: result=%s err=%v", failed, resultX, err)
		}
		t.Logf("\t%s\tShould import the first tip as best.", success)

		resultY, err := c.ImportBlock(y)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to import the tying block: %v", failed, err)
		}
		if resultY != chain.NonBestBlock {
			t.Fatalf("\t%s\tShould keep the incumbent on a tie, got %s.", failed, resultY)
		}
		t.Logf("\t%s\tShould keep the incumbent on a tie.", success)

		if repo.BestBlock().Hash() != x.Hash() {
			t.Fatalf("\t%s\tShould still report the first-imported tip as best.", failed)
		}
		t.Logf("\t%s\tShould still report the first-imported tip as best.", success)
	}
}

// mainHash returns the hash of the BlockInfo marked main among infos, or ""
// if none are.
func mainHash(infos []database.BlockInfo) string {
	for _, info := range infos {
		if info.IsMain {
			return info.Hash
		}
	}
	return ""
}

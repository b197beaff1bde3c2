package manager

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/difficulty"
	"github.com/proofchain/powchain/foundation/blockchain/genesis"
	"github.com/proofchain/powchain/foundation/blockchain/pairing"
	"github.com/proofchain/powchain/foundation/blockchain/vm"
)

const (
	success = "✓"
	failed  = "✗"
)

const coinbase database.AccountID = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
const recipient database.AccountID = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"

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

func (m *memSerializer) ForEach() database.Iterator { return &memIterator{m: m} }
func (m *memSerializer) Close() error                { return nil }
func (m *memSerializer) Reset() error                { m.blocks = nil; return nil }

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

func (i *memIterator) Done() bool { return i.current >= len(i.m.blocks) }

// signedTx builds a funded sender's transaction at the given nonce.
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

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	gen := genesis.Genesis{
		ChainID:       1,
		TransPerBlock: 1,
		Difficulty:    difficulty.MinDifficulty,
		MiningReward:  100,
		Balances: map[string]uint64{
			"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4": 1_000_000,
		},
	}

	repo, err := database.New(gen, &memSerializer{}, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open repository: %v", failed, err)
	}

	return New(Config{
		Coinbase: coinbase,
		NodeID:   "test-node",
		Genesis:  gen,
		Repo:     repo,
		Executor: vm.NullExecutor{},
		Checker:  pairing.NullChecker{},
	})
}

// =============================================================================

func Test_StartMiningSetsHandle(t *testing.T) {
	t.Log("Given a manager with a pending transaction.")
	{
		m := newTestManager(t)
		if _, err := m.mempool.Upsert(signedTx(t, 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to admit a transaction: %v", failed, err)
		}

		m.StartMining()
		defer m.StopMining()

		if m.mineHandle == nil {
			t.Fatalf("\t%s\tShould have a mining attempt in flight.", failed)
		}
		t.Logf("\t%s\tShould start a mining attempt when idle and not syncing.", success)

		handle := m.mineHandle
		m.StartMining()
		if m.mineHandle != handle {
			t.Fatalf("\t%s\tShould not start a second concurrent mining attempt.", failed)
		}
		t.Logf("\t%s\tShould be a no-op when a mining attempt is already in flight.", success)
	}
}

func Test_StopMiningClearsHandle(t *testing.T) {
	t.Log("Given a manager with an in-flight mining attempt.")
	{
		m := newTestManager(t)
		if _, err := m.mempool.Upsert(signedTx(t, 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to admit a transaction: %v", failed, err)
		}

		m.StartMining()
		if m.mineHandle == nil {
			t.Fatalf("\t%s\tShould have started a mining attempt.", failed)
		}

		m.StopMining()
		if m.mineHandle != nil {
			t.Fatalf("\t%s\tShould clear the mining handle once stopped.", failed)
		}
		t.Logf("\t%s\tShould clear the mining handle on StopMining.", success)

		m.StopMining()
		t.Logf("\t%s\tShould be a no-op calling StopMining again.", success)
	}
}

func Test_CancelIfHeightAtMost(t *testing.T) {
	t.Log("Given a manager mining on top of the current best block.")
	{
		m := newTestManager(t)
		if _, err := m.mempool.Upsert(signedTx(t, 1)); err != nil {
			t.Fatalf("\t%s\tShould be able to admit a transaction: %v", failed, err)
		}

		m.StartMining()
		defer m.StopMining()

		miningHeight := m.miningHeight

		m.CancelIfHeightAtMost(miningHeight - 1)
		if m.mineHandle == nil {
			t.Fatalf("\t%s\tShould not cancel a mining attempt for a height it hasn't reached yet.", failed)
		}
		t.Logf("\t%s\tShould leave the attempt running when the import is below its target height.", success)

		m.CancelIfHeightAtMost(miningHeight)
		if m.mineHandle != nil {
			t.Fatalf("\t%s\tShould cancel a mining attempt once its target height is overtaken.", failed)
		}
		t.Logf("\t%s\tShould cancel the attempt once a newly imported block overtakes its target height.", success)
	}
}

// =============================================================================

// Test_RunExchangesStatusOverLoopback brings up two managers on real TCP
// loopback connections and checks that, once the dialed connection is
// registered, the listener appears in the dialing side's peer roster.
func Test_RunExchangesStatusOverLoopback(t *testing.T) {
	t.Log("Given two managers connected over TCP loopback.")
	{
		a := newTestManager(t)
		b := newTestManager(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go a.Run(ctx)
		go b.Run(ctx)
		defer a.Shutdown()
		defer b.Shutdown()

		if err := a.Listen("127.0.0.1:0"); err != nil {
			t.Fatalf("\t%s\tShould be able to listen: %v", failed, err)
		}
		addr := a.listener.Addr().String()

		if err := b.Dial(addr); err != nil {
			t.Fatalf("\t%s\tShould be able to dial the listening manager: %v", failed, err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for {
			if _, ok := b.peers.Get(addr); ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("\t%s\tShould add the listener to the dialing side's roster within the deadline.", failed)
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Logf("\t%s\tShould add the listener to the dialing side's roster once it's connected.", success)
	}
}

package database_test

import (
	"errors"
	"io/fs"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

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

func Test_Transactions(t *testing.T) {
	type table struct {
		name        string
		miner       database.AccountID
		minerReward uint64
		gas         uint64
		balances    map[string]uint64
		final       map[database.AccountID]uint64
		txs         []database.Tx
	}

	tt := []table{
		{
			name:        "basic",
			miner:       "0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8",
			minerReward: 100,
			gas:         80,
			balances: map[string]uint64{
				"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4": 1000,
				"0xF01813E4B85e178A83e29B8E7bF26BD830a25f32": 0,
				"0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8": 0,
			},
			final: map[database.AccountID]uint64{
				"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4": 540,
				"0xF01813E4B85e178A83e29B8E7bF26BD830a25f32": 200,
				"0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8": 360,
			},
			txs: []database.Tx{
				{Nonce: 1, ToID: "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32", Value: 100, Tip: 50},
				{Nonce: 2, ToID: "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32", Value: 100, Tip: 50},
			},
		},
	}

	t.Log("Given the need to validate the transactions.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling a set of database.", testID)
			{
				f := func(t *testing.T) {
					db, err := database.New(genesis.Genesis{MiningReward: tst.minerReward, Balances: tst.balances}, &memSerializer{}, nil)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to open database: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to open database.", success, testID)

					var beneficiaryBlock database.Block
					beneficiaryBlock.Header.BeneficiaryID = tst.miner

					for _, tx := range tst.txs {
						blockTx, err := sign(tx, tst.gas)
						if err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould be able to sign transaction: %v", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould be able to sign transaction.", success, testID)

						if err := db.ApplyTransaction(beneficiaryBlock, blockTx); err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould be able to apply transaction: %v", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould be able to apply transaction.", success, testID)
					}

					db.ApplyMiningReward(beneficiaryBlock)
					t.Logf("\t%s\tTest %d:\tShould be able to apply miner reward.", success, testID)

					accounts := db.CopyAccounts()
					for account, info := range accounts {
						finalValue, exists := tst.final[account]
						if !exists {
							t.Errorf("\t%s\tTest %d:\tShould have account %s in balances.", failed, testID, account)
							continue
						}
						t.Logf("\t%s\tTest %d:\tShould have account %s in balances.", success, testID, account)

						if info.Balance.Cmp(new(big.Int).SetUint64(finalValue)) != 0 {
							t.Errorf("\t%s\tTest %d:\tShould have correct balances for %s.", failed, testID, account)
							t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, info.Balance)
							t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, finalValue)
						} else {
							t.Logf("\t%s\tTest %d:\tShould have correct balances for %s.", success, testID, account)
						}
					}
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_NonceValidation(t *testing.T) {
	t.Log("Given the need to validate new transactions use a proper nonce.")
	{
		db, err := database.New(genesis.Genesis{Balances: map[string]uint64{"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4": 1000}}, &memSerializer{}, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open database: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to open database.", success)

		txs := []database.Tx{
			{Nonce: 5, ToID: "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"},
			{Nonce: 3, ToID: "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"},
			{Nonce: 6, ToID: "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"},
		}
		results := []error{nil, errors.New("nonce too small"), nil}

		for i, tx := range txs {
			blockTx, err := sign(tx, 0)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to sign transaction: %v", failed, err)
			}

			err = db.ValidateNonce(blockTx.SignedTx)
			if (results[i] == nil) != (err == nil) {
				t.Fatalf("\t%s\tShould validate nonce %d correctly, got err=%v", failed, i, err)
			}
			t.Logf("\t%s\tShould validate nonce %d correctly.", success, i)

			_ = db.ApplyTransaction(database.Block{}, blockTx)
		}
	}
}

// =============================================================================

func sign(tx database.Tx, gas uint64) (database.BlockTx, error) {
	pk, err := crypto.HexToECDSA("fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959")
	if err != nil {
		return database.BlockTx{}, err
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		return database.BlockTx{}, err
	}

	return database.NewBlockTx(signedTx, gas, 1), nil
}

// Package database handles the data model of the blockchain: the shared
// Block/Transaction/Account types, their canonical encoding, and the
// Repository that persists blocks, fork-choice bookkeeping, and the
// account world-state.
package database

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/proofchain/powchain/foundation/blockchain/genesis"
)

// Serializer is the behavior required to persist and read back the main
// chain's blocks. Account state and fork bookkeeping for non-main branches
// live only in memory; only the canonical chain is ever written to disk,
// matching the teacher's single append-only/one-file-per-block approach.
type Serializer interface {
	Write(blockData BlockData) error
	GetBlock(num uint64) (BlockData, error)
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator walks the persisted main chain in height order.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// Repository is the persistence and lookup surface the chain engine
// depends on: block-by-hash, block-info-by-height (possibly several per
// height during a fork), account-state-by-address, and code-by-hash.
type Repository interface {
	BlockByHash(hash string) (Block, bool)
	BlockByNumber(num uint64) (Block, bool)
	BlockInfosByHeight(height uint64) []BlockInfo
	MaxKnownHeight() uint64
	PutBlock(block Block) error
	SetMain(height uint64, hash string) error
	ClearMain(height uint64)
	BestBlock() Block
	BestBlockInfo() BlockInfo

	AccountState(id AccountID) (Account, bool)
	PutAccountState(id AccountID, account Account)
	CopyAccounts() map[AccountID]Account
	ResetAccounts() error

	CodeByHash(hash [32]byte) ([]byte, bool)
	PutCode(code []byte) [32]byte

	ApplyTransaction(block Block, tx BlockTx) error
	ApplyMiningReward(block Block)

	Close() error
	Reset() error
}

// =============================================================================

// Store is the default Repository implementation: an in-memory index over
// everything needed for fork-choice and world-state, backed by a
// Serializer that durably persists the main chain only.
type Store struct {
	mu sync.RWMutex

	genesis genesis.Genesis

	blocksByHash  map[string]Block
	infosByHeight map[uint64][]BlockInfo
	bestHeight    uint64
	bestBlockHash string

	accounts map[AccountID]Account
	code     map[[32]byte][]byte

	serializer Serializer
}

// New constructs a Repository, applies genesis account balances, and
// replays any blocks already on disk to rebuild the in-memory indices.
func New(gen genesis.Genesis, serializer Serializer, evHandler func(v string, args ...any)) (*Store, error) {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	db := Store{
		genesis:       gen,
		blocksByHash:  make(map[string]Block),
		infosByHeight: make(map[uint64][]BlockInfo),
		accounts:      make(map[AccountID]Account),
		code:          make(map[[32]byte][]byte),
		serializer:    serializer,
	}

	if err := db.applyGenesisBalances(); err != nil {
		return nil, err
	}

	var parent Block
	iter := db.serializer.ForEach()
	for {
		blockData, err := iter.Next()
		if iter.Done() {
			break
		}
		if err != nil {
			return nil, err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		if err := block.ValidateBlock(parent, evHandler); err != nil {
			return nil, err
		}

		for _, tx := range block.Trans.Values() {
			if err := db.applyTransaction(block, tx); err != nil {
				return nil, err
			}
		}
		db.applyMiningReward(block)

		hash := block.Hash()
		db.blocksByHash[hash] = block
		db.infosByHeight[block.Header.Number] = []BlockInfo{{
			Hash:            hash,
			IsMain:          true,
			TotalDifficulty: block.Header.TotalDifficulty,
		}}
		db.bestHeight = block.Header.Number
		db.bestBlockHash = hash

		parent = block
	}

	return &db, nil
}

func (db *Store) applyGenesisBalances() error {
	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return err
		}
		db.accounts[accountID] = newAccount(balance)
	}

	return nil
}

// Close closes the underlying serializer.
func (db *Store) Close() error {
	return db.serializer.Close()
}

// Reset re-initializes the repository back to genesis state.
func (db *Store) Reset() error {
	if err := db.serializer.Reset(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.blocksByHash = make(map[string]Block)
	db.infosByHeight = make(map[uint64][]BlockInfo)
	db.bestHeight = 0
	db.bestBlockHash = ""
	db.accounts = make(map[AccountID]Account)
	db.code = make(map[[32]byte][]byte)

	return db.applyGenesisBalances()
}

// =============================================================================

// BlockByHash returns the block with the given hash, if known. It may be on
// the main chain or a losing fork branch.
func (db *Store) BlockByHash(hash string) (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	b, ok := db.blocksByHash[hash]
	return b, ok
}

// BlockByNumber returns the main-chain block at the given height, if any.
func (db *Store) BlockByNumber(num uint64) (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, info := range db.infosByHeight[num] {
		if info.IsMain {
			b, ok := db.blocksByHash[info.Hash]
			return b, ok
		}
	}

	return Block{}, false
}

// BlockInfosByHeight returns every known BlockInfo at a given height,
// possibly several during a fork.
func (db *Store) BlockInfosByHeight(height uint64) []BlockInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()

	infos := make([]BlockInfo, len(db.infosByHeight[height]))
	copy(infos, db.infosByHeight[height])
	return infos
}

// PutBlock records a block and a non-main BlockInfo at its height. Callers
// that want the block promoted to the main chain call SetMain afterward;
// this mirrors step 3 of the chain engine's import algorithm, which always
// persists before deciding fork choice.
func (db *Store) PutBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	hash := block.Hash()
	if _, exists := db.blocksByHash[hash]; exists {
		return nil
	}

	db.blocksByHash[hash] = block
	db.infosByHeight[block.Header.Number] = append(db.infosByHeight[block.Header.Number], BlockInfo{
		Hash:            hash,
		IsMain:          false,
		TotalDifficulty: block.Header.TotalDifficulty,
	})

	return nil
}

// SetMain flips the BlockInfo at height with the given hash to IsMain=true
// and every other BlockInfo at that height to IsMain=false, maintaining the
// "exactly one main BlockInfo per height" invariant. It also persists the
// block to disk, since only main-chain blocks are durably written, and
// unconditionally moves the best-block cursor to (height, hash): fork
// choice is the chain engine's decision, not the repository's, so the
// repository trusts whatever the caller asks it to promote.
func (db *Store) SetMain(height uint64, hash string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	infos, ok := db.infosByHeight[height]
	if !ok {
		return fmt.Errorf("no block known at height %d", height)
	}

	found := false
	for i := range infos {
		if infos[i].Hash == hash {
			infos[i].IsMain = true
			found = true
		} else {
			infos[i].IsMain = false
		}
	}
	if !found {
		return fmt.Errorf("block %s not known at height %d", hash, height)
	}
	db.infosByHeight[height] = infos

	block := db.blocksByHash[hash]
	db.bestHeight = height
	db.bestBlockHash = hash

	return db.serializer.Write(NewBlockData(block))
}

// ClearMain demotes every BlockInfo at height to IsMain=false, without
// touching the best-block cursor. Used when a reorg's new best branch
// doesn't reach as high as the abandoned branch did, leaving heights above
// the new tip with no main block at all.
func (db *Store) ClearMain(height uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	infos := db.infosByHeight[height]
	for i := range infos {
		infos[i].IsMain = false
	}
	db.infosByHeight[height] = infos
}

// MaxKnownHeight returns the highest height the repository has any
// BlockInfo for, main or not.
func (db *Store) MaxKnownHeight() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var max uint64
	for h := range db.infosByHeight {
		if h > max {
			max = h
		}
	}
	return max
}

// BestBlock returns the current main-chain tip.
func (db *Store) BestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.blocksByHash[db.bestBlockHash]
}

// BestBlockInfo returns the BlockInfo for the current main-chain tip.
func (db *Store) BestBlockInfo() BlockInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, info := range db.infosByHeight[db.bestHeight] {
		if info.IsMain {
			return info
		}
	}

	return BlockInfo{}
}

// =============================================================================

// AccountState returns the world-state entry for an address.
func (db *Store) AccountState(id AccountID) (Account, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	a, ok := db.accounts[id]
	return a, ok
}

// PutAccountState writes the world-state entry for an address.
func (db *Store) PutAccountState(id AccountID, account Account) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.accounts[id] = account
}

// CopyAccounts makes a copy of the current accounts in the repository.
func (db *Store) CopyAccounts() map[AccountID]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[AccountID]Account, len(db.accounts))
	for accountID, account := range db.accounts {
		accounts[accountID] = account
	}
	return accounts
}

// ResetAccounts reseeds the account world-state back to genesis balances,
// discarding every transaction's effects. Used by the chain engine at the
// start of a reorg replay, before reapplying the winning branch from
// genesis forward.
func (db *Store) ResetAccounts() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.accounts = make(map[AccountID]Account)
	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return err
		}
		db.accounts[accountID] = newAccount(balance)
	}

	return nil
}

// CodeByHash returns deployed contract code by its hash.
func (db *Store) CodeByHash(hash [32]byte) ([]byte, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.code[hash]
	return c, ok
}

// PutCode stores contract code, keyed by its SHA-256 hash, and returns that
// hash.
func (db *Store) PutCode(code []byte) [32]byte {
	hash := codeHash(code)

	db.mu.Lock()
	defer db.mu.Unlock()

	db.code[hash] = code
	return hash
}

// =============================================================================

// account returns the account's current world-state entry, or a freshly
// seeded zero-balance account if it has never been touched before.
func (db *Store) account(id AccountID) Account {
	if a, ok := db.accounts[id]; ok {
		return a
	}
	return newAccount(0)
}

// applyMiningReward gives the specified account the mining reward.
func (db *Store) applyMiningReward(block Block) {
	account := db.account(block.Header.BeneficiaryID)
	account.Balance.Add(account.Balance, new(big.Int).SetUint64(db.genesis.MiningReward))
	db.accounts[block.Header.BeneficiaryID] = account
}

// ApplyMiningReward is the externally callable form used by the chain
// engine when a block becomes or remains part of the main chain.
func (db *Store) ApplyMiningReward(block Block) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.applyMiningReward(block)
}

// applyTransaction performs the business logic for applying a transaction
// to the repository. Caller must hold db.mu.
func (db *Store) applyTransaction(block Block, tx BlockTx) error {
	fromID, err := tx.FromAccount()
	if err != nil {
		return fmt.Errorf("invalid signature, %s", err)
	}

	from := db.account(fromID)
	to := db.account(tx.ToID)
	bnfc := db.account(block.Header.BeneficiaryID)

	gasFee := new(big.Int).SetUint64(tx.GasPrice * tx.GasUnits)
	if gasFee.Cmp(from.Balance) > 0 {
		gasFee.Set(from.Balance)
	}
	from.Balance.Sub(from.Balance, gasFee)
	bnfc.Balance.Add(bnfc.Balance, gasFee)

	db.accounts[fromID] = from
	db.accounts[block.Header.BeneficiaryID] = bnfc

	if fromID == tx.ToID {
		return fmt.Errorf("transaction invalid, sending money to yourself, from %s, to %s", fromID, tx.ToID)
	}

	txNonce := new(big.Int).SetUint64(tx.Nonce)
	if txNonce.Cmp(from.Nonce) <= 0 {
		return fmt.Errorf("transaction invalid, nonce too small, current %s, provided %d", from.Nonce, tx.Nonce)
	}

	need := new(big.Int).SetUint64(tx.Value + tx.Tip)
	if from.Balance.Sign() == 0 || from.Balance.Cmp(need) < 0 {
		return fmt.Errorf("transaction invalid, insufficient funds, bal %s, needed %s", from.Balance, need)
	}

	from.Balance.Sub(from.Balance, new(big.Int).SetUint64(tx.Value))
	to.Balance.Add(to.Balance, new(big.Int).SetUint64(tx.Value))

	from.Balance.Sub(from.Balance, new(big.Int).SetUint64(tx.Tip))
	bnfc.Balance.Add(bnfc.Balance, new(big.Int).SetUint64(tx.Tip))

	from.Nonce = txNonce

	db.accounts[fromID] = from
	db.accounts[tx.ToID] = to
	db.accounts[block.Header.BeneficiaryID] = bnfc

	return nil
}

// ApplyTransaction is the externally callable, locked form used by the
// chain engine's VM-driven replay along the best branch.
func (db *Store) ApplyTransaction(block Block, tx BlockTx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.applyTransaction(block, tx)
}

// ValidateNonce confirms a signed transaction's nonce is strictly greater
// than the sender's currently recorded nonce.
func (db *Store) ValidateNonce(tx SignedTx) error {
	fromID, err := tx.FromAccount()
	if err != nil {
		return err
	}

	db.mu.RLock()
	from := db.account(fromID)
	db.mu.RUnlock()

	if new(big.Int).SetUint64(tx.Nonce).Cmp(from.Nonce) <= 0 {
		return fmt.Errorf("invalid nonce, current %s, provided %d", from.Nonce, tx.Nonce)
	}

	return nil
}

// Package mempool maintains the pending-transaction pool for the
// blockchain: a multiset of valid but unconfirmed transactions that
// discards entries as they're included in an imported best block.
package mempool

import (
	"fmt"
	"sync"

	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/mempool/selector"
)

// Mempool represents a cache of transactions organized by account:nonce.
// Admission order is preserved in a side index so the default selection
// strategy is strict FIFO, per §5's requirement that the order used when
// composing the next candidate block match admission order.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]database.BlockTx
	order    []string
	selectFn selector.Func
}

// New constructs a new mempool using the default FIFO admission order.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]database.BlockTx),
	}
}

// NewWithStrategy constructs a new mempool that selects transactions using
// the named alternate strategy instead of FIFO admission order.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	return &Mempool{
		pool:     make(map[string]database.BlockTx),
		selectFn: selectFn,
	}, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction in the mempool. A transaction new
// to the pool is appended to the admission order; replacing an existing
// account:nonce entry keeps its original position.
func (mp *Mempool) Upsert(tx database.BlockTx) (int, error) {
	key, err := mapKey(tx)
	if err != nil {
		return 0, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[key]; !exists {
		mp.order = append(mp.order, key)
	}
	mp.pool[key] = tx

	return len(mp.pool), nil
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.BlockTx) error {
	key, err := mapKey(tx)
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.deleteKey(key)

	return nil
}

// deleteKey removes a pool entry and its admission-order slot. Caller must
// hold mp.mu.
func (mp *Mempool) deleteKey(key string) {
	if _, exists := mp.pool[key]; !exists {
		return
	}

	delete(mp.pool, key)

	for i, k := range mp.order {
		if k == key {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}
}

// Purge removes exactly the transactions in txs from the pool — used when a
// best block is imported, so losing-fork blocks never purge the pool.
func (mp *Mempool) Purge(txs []database.BlockTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, tx := range txs {
		key, err := mapKey(tx)
		if err != nil {
			continue
		}
		mp.deleteKey(key)
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.BlockTx)
	mp.order = nil
}

// PickBest returns up to howMany transactions for the next block. With no
// selection strategy configured, it returns transactions in strict FIFO
// admission order (the §5 default); otherwise it delegates to the
// configured strategy, grouping transactions by sender account first since
// every strategy function expects that shape.
func (mp *Mempool) PickBest(howMany int) []database.BlockTx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if howMany == -1 || howMany > len(mp.order) {
		howMany = len(mp.order)
	}

	if mp.selectFn == nil {
		txs := make([]database.BlockTx, 0, howMany)
		for _, key := range mp.order[:howMany] {
			txs = append(txs, mp.pool[key])
		}
		return txs
	}

	m := make(map[database.AccountID][]database.BlockTx)
	for _, key := range mp.order {
		tx := mp.pool[key]
		addr, err := tx.FromAccount()
		if err != nil {
			continue
		}
		m[addr] = append(m[addr], tx)
	}

	return mp.selectFn(m, howMany)
}

// =============================================================================

// mapKey is used to generate the map key.
func mapKey(tx database.BlockTx) (string, error) {
	account, err := tx.FromAccount()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s:%d", account, tx.Nonce), nil
}

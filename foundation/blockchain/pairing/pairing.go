// Package pairing defines the collaborator boundary for validating
// transactions and blocks against rules outside the base consensus rules
// the chain engine enforces directly — things like contract-call gas
// accounting or cross-chain proofs. Nothing in this repository implements
// such rules yet; the Checker exists so the chain engine can be built
// against a stable seam rather than against a concrete, absent feature.
package pairing

import "github.com/proofchain/powchain/foundation/blockchain/database"

// Checker is consulted by the chain engine before a transaction is folded
// into a block's state transition, and before a block is accepted onto the
// main chain. It exists to let additional validation rules be injected
// without changing the engine's import/mining code paths.
type Checker interface {
	CheckTransaction(tx database.BlockTx) error
	CheckBlock(block database.Block) error
}

// NullChecker is the Checker used when no additional rules are configured.
// It accepts everything the base consensus rules already accepted.
type NullChecker struct{}

// CheckTransaction implements Checker.
func (NullChecker) CheckTransaction(tx database.BlockTx) error {
	return nil
}

// CheckBlock implements Checker.
func (NullChecker) CheckBlock(block database.Block) error {
	return nil
}

// Package vm defines the collaborator boundary the chain engine replays
// transactions through. The engine never inspects transaction data itself;
// it hands each transaction to an Executor and folds the result back into
// the account world-state kept in the database package.
package vm

import (
	"context"

	"github.com/proofchain/powchain/foundation/blockchain/database"
)

// HaltReason names why execution of a transaction stopped without running
// to completion. An empty HaltReason means the transaction completed.
type HaltReason string

// Set of known halt reasons. Executors are free to return reasons outside
// this set. The chain engine discards the Result and only checks the error
// Execute returns, so it does not branch on any halt reason.
const (
	HaltNone        HaltReason = ""
	HaltOutOfGas    HaltReason = "OUT_OF_GAS"
	HaltRevert      HaltReason = "REVERT"
	HaltInvalidCode HaltReason = "INVALID_CODE"
)

// Result captures the outcome of executing one transaction.
type Result struct {
	Halt      HaltReason
	GasUsed   uint64
	StateRoot [32]byte
}

// StateTracker is the narrow view of the world-state an Executor is allowed
// to read and mutate. It is satisfied by *database.Store.
type StateTracker interface {
	AccountState(id database.AccountID) (database.Account, bool)
	PutAccountState(id database.AccountID, account database.Account)
	CodeByHash(hash [32]byte) ([]byte, bool)
	PutCode(code []byte) [32]byte
}

// Executor runs one transaction against a StateTracker and reports the
// outcome. Implementations must be safe to call sequentially for every
// transaction in a block, in order, since later transactions in the same
// block observe earlier ones' state changes.
type Executor interface {
	Execute(ctx context.Context, st StateTracker, block database.Block, tx database.BlockTx) (Result, error)
}

// =============================================================================

// NullExecutor is the Executor used when no contract/VM layer is wired in.
// It performs no additional state transition beyond what the chain engine
// already applies (value transfer, tip, gas fee) and always reports success.
// This is the only Executor this repository ships; it exists so the chain
// engine has a collaborator to call without special-casing "no VM present."
type NullExecutor struct{}

// Execute implements Executor. It is a no-op: the value/fee accounting for
// every transaction happens in database.Store.ApplyTransaction, which the
// chain engine calls independently of the Executor.
func (NullExecutor) Execute(ctx context.Context, st StateTracker, block database.Block, tx database.BlockTx) (Result, error) {
	account, _ := st.AccountState(block.Header.BeneficiaryID)

	return Result{
		Halt:      HaltNone,
		GasUsed:   tx.GasUnits,
		StateRoot: account.StateRoot,
	}, nil
}

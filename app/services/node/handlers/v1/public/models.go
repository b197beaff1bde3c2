package public

import (
	"math/big"

	"github.com/proofchain/powchain/foundation/blockchain/database"
	"github.com/proofchain/powchain/foundation/blockchain/difficulty"
)

// tx represents information that can be serialized or deserialized with
// human readable names attached to the account fields.
type tx struct {
	FromAccount database.AccountID `json:"from"`
	FromName    string             `json:"from_name"`
	To          database.AccountID `json:"to"`
	ToName      string             `json:"to_name"`
	Nonce       uint64             `json:"nonce"`
	Value       uint64             `json:"value"`
	Tip         uint64             `json:"tip"`
	Data        []byte             `json:"data"`
	TimeStamp   uint64             `json:"timestamp"`
	GasPrice    uint64             `json:"gas_price"`
	GasUnits    uint64             `json:"gas_units"`
	Sig         string             `json:"sig"`
}

// block represents information that can be serialized or deserialized for
// a block with its transactions rendered for display.
type block struct {
	ParentHash      string             `json:"parent_hash"`
	BeneficiaryID   database.AccountID `json:"beneficiary"`
	BeneficiaryName string             `json:"beneficiary_name"`
	Difficulty      difficulty.Compact `json:"difficulty"`
	Number          uint64             `json:"number"`
	TotalDifficulty uint64             `json:"total_difficulty"`
	TimeStamp       uint64             `json:"timestamp"`
	Nonce           uint32             `json:"nonce"`
	Transactions    []tx               `json:"transactions"`
}

// info represents information that can be serialized or deserialized for
// an account along with its human readable name.
type info struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance *big.Int           `json:"balance"`
	Nonce   *big.Int           `json:"nonce"`
}

// actInfo represents a collection of accounts and their balances.
type actInfo struct {
	LastestBlock string `json:"lastest_block"`
	Uncommitted  int    `json:"uncommitted"`
	Accounts     []info `json:"accounts"`
}

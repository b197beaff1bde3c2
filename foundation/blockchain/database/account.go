package database

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// EmptyStateRoot and EmptyCodeHash are the fixed sentinels for an account
// that owns no storage and no contract code, following the convention of
// hashing nothing rather than using the zero value.
var (
	EmptyStateRoot = sha256.Sum256(nil)
	EmptyCodeHash  = sha256.Sum256([]byte{})
)

// Account represents the world-state entry for an individual address: its
// transaction nonce, spendable balance, storage root, and code hash. Nonce
// and Balance are big-ints per §3, so neither wraps or silently truncates
// as the ledger accumulates fees and tips across the chain's lifetime.
type Account struct {
	Nonce     *big.Int
	Balance   *big.Int
	StateRoot [32]byte
	CodeHash  [32]byte
}

// newAccount constructs a new account value seeded with the empty
// state-root and code-hash sentinels.
func newAccount(balance uint64) Account {
	return Account{
		Nonce:     new(big.Int),
		Balance:   new(big.Int).SetUint64(balance),
		StateRoot: EmptyStateRoot,
		CodeHash:  EmptyCodeHash,
	}
}

// IsContract reports whether this account carries deployed code.
func (a Account) IsContract() bool {
	return a.CodeHash != EmptyCodeHash
}

// =============================================================================

// AccountID represents an account id that is used to sign transactions and is
// associated with transactions on the blockchain.
type AccountID string

// ToAccountID converts a hex-encoded string to an account and validates the
// hex-encoded string is formatted correctly.
func ToAccountID(hex string) (AccountID, error) {
	a := AccountID(hex)
	if !a.IsAccountID() {
		return "", errors.New("invalid account format")
	}

	return a, nil
}

// PublicKeyToAccountID converts the public key to an account value.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(crypto.PubkeyToAddress(pk).String())
}

// IsAccountID verifies whether the underlying data represents a valid
// hex-encoded account.
func (a AccountID) IsAccountID() bool {
	const addressLength = 20

	if has0xPrefix(a) {
		a = a[2:]
	}

	return len(a) == 2*addressLength && isHex(a)
}

// =============================================================================

// has0xPrefix validates the account starts with a 0x.
func has0xPrefix(a AccountID) bool {
	return len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X')
}

// isHex validates whether each byte is valid hexadecimal string.
func isHex(a AccountID) bool {
	if len(a)%2 != 0 {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

package database

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/proofchain/powchain/foundation/blockchain/signature"
)

// =============================================================================

// Tx is the transactional information between two parties. The sender
// address is never stored directly; it is recovered from the signature,
// following the Ethereum convention the teacher's code already uses.
type Tx struct {
	Nonce     uint64    `json:"nonce"`      // Unique id for the transaction supplied by the user.
	ToID      AccountID `json:"to"`         // Account receiving the benefit of the transaction.
	Value     uint64    `json:"value"`      // Monetary value received from this transaction.
	Tip       uint64    `json:"tip"`        // Tip offered by the sender as an incentive to mine this transaction.
	GasLimit  uint64    `json:"gas_limit"`  // Maximum units of gas the sender is willing to pay for.
	TimeStamp int64     `json:"timestamp"`  // Milliseconds since epoch when the sender created the transaction.
	Data      []byte    `json:"data"`       // Extra data related to the transaction.
}

// NewTx constructs a new transaction.
func NewTx(nonce uint64, toID AccountID, value uint64, tip uint64, gasLimit uint64, data []byte) (Tx, error) {
	if !toID.IsAccountID() {
		return Tx{}, fmt.Errorf("to account is not properly formatted")
	}

	tx := Tx{
		Nonce:     nonce,
		ToID:      toID,
		Value:     value,
		Tip:       tip,
		GasLimit:  gasLimit,
		TimeStamp: time.Now().UTC().UnixMilli(),
		Data:      data,
	}

	return tx, nil
}

// NonceBytes renders the transaction's nonce as an 8-byte big-endian
// sequence, matching the "nonce-bytes" wire representation of §3.
func (tx Tx) NonceBytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, tx.Nonce)
	return buf
}

// NonceFromBytes parses the wire nonce-bytes representation back into the
// uint64 used internally for monotonicity checks.
func NonceFromBytes(b []byte) uint64 {
	buf := make([]byte, 8)
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf)
}

// Sign uses the specified private key to sign the transaction.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {

	// Validate the to account address is a valid address.
	if !tx.ToID.IsAccountID() {
		return SignedTx{}, fmt.Errorf("to account is not properly formatted")
	}

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	// Construct the signed transaction by adding the signature
	// in the [R|S|V] format.
	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain.
type SignedTx struct {
	Tx
	V *big.Int `json:"v"` // Recovery identifier, folded with the chain's domain id.
	R *big.Int `json:"r"` // First coordinate of the ECDSA signature.
	S *big.Int `json:"s"` // Second coordinate of the ECDSA signature.
}

// Validate verifies the transaction has a proper signature that conforms to our
// standards and is associated with the data claimed to be signed. It also
// checks the format of the to account.
func (tx SignedTx) Validate() error {
	if !tx.ToID.IsAccountID() {
		return errors.New("invalid account for to account")
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return err
	}

	return nil
}

// FromAccount extracts the account id that signed the transaction. This is
// the sender-address of §3: recovered, never stored.
func (tx SignedTx) FromAccount() (AccountID, error) {
	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	return AccountID(address), err
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	from, err := tx.FromAccount()
	if err != nil {
		from = "unknown"
	}

	return fmt.Sprintf("%s:%d", from, tx.Nonce)
}

// =============================================================================

// BlockTx represents the transaction as it's recorded inside a block. This
// includes the time the node received it and the gas fee parameters it was
// accepted with.
type BlockTx struct {
	SignedTx
	TimeStamp uint64 `json:"timestamp"`  // The time the node received the transaction.
	GasPrice  uint64 `json:"gas_price"`  // The price of one unit of gas to be paid for fees.
	GasUnits  uint64 `json:"gas_units"`  // The number of units of gas used for this transaction.
}

// NewBlockTx constructs a new block transaction.
func NewBlockTx(signedTx SignedTx, gasPrice uint64, unitsOfGas uint64) BlockTx {
	return BlockTx{
		SignedTx:  signedTx,
		TimeStamp: uint64(time.Now().UTC().Unix()),
		GasPrice:  gasPrice,
		GasUnits:  unitsOfGas,
	}
}

// Hash implements the merkle Hashable interface for providing a hash of a
// block transaction. Per §3, a transaction's identity is the hash of its
// canonical encoding without the signature, so this hashes the DER encoding
// of the underlying Tx, not the full signed/block-wrapped value. This is the
// pre-image the merkle tree commits to in a block's TransRoot.
func (tx BlockTx) Hash() ([]byte, error) {
	data, err := EncodeTx(tx.Tx)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two block transactions. If the nonce and signatures are the
// same, the two transactions are the same.
func (tx BlockTx) Equals(otherTx BlockTx) bool {
	txSig := signature.ToSignatureBytes(tx.V, tx.R, tx.S)
	otherTxSig := signature.ToSignatureBytes(otherTx.V, otherTx.R, otherTx.S)

	return tx.Nonce == otherTx.Nonce && bytes.Equal(txSig, otherTxSig)
}

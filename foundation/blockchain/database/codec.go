package database

import (
	"crypto/sha256"
	"encoding/asn1"
)

// codeHash returns the SHA-256 hash used to key deployed contract code.
func codeHash(code []byte) [32]byte {
	return sha256.Sum256(code)
}

// =============================================================================
//
// Canonical transaction-identity encoding. Per §6 this is an ASN.1 DER
// sequence of the fields in asn1Tx's order (ToID, Value, Tip, GasLimit,
// TimeStamp, Data, NonceB); that is not the order of the transaction field
// list in SPEC_FULL.md §3. Byte-strings are encoded as bit-strings carrying no unused bits. This is part
// of consensus: BlockTx.Hash, the pre-image the merkle tree commits to in a
// block's TransRoot, is the SHA-256 digest of this encoding, so the field
// order below must never change without a header version bump. Per §3 a
// transaction's identity is the hash of its canonical encoding without the
// signature, so V, R, and S are deliberately absent from asn1Tx. See
// DESIGN.md for why this uses the standard library's encoding/asn1 rather
// than a third-party codec.

// asn1Tx is the DER wire shape of an unsigned transaction, fields encoded in
// the order declared here, signature fields excluded.
type asn1Tx struct {
	ToID      string
	Value     int64
	Tip       int64
	GasLimit  int64
	TimeStamp int64
	Data      asn1.BitString
	NonceB    asn1.BitString
}

// EncodeTx produces the canonical DER encoding of a transaction's identity:
// every field except the signature.
func EncodeTx(tx Tx) ([]byte, error) {
	return asn1.Marshal(asn1Tx{
		ToID:      string(tx.ToID),
		Value:     int64(tx.Value),
		Tip:       int64(tx.Tip),
		GasLimit:  int64(tx.GasLimit),
		TimeStamp: tx.TimeStamp,
		Data:      asn1.BitString{Bytes: tx.Data, BitLength: len(tx.Data) * 8},
		NonceB:    asn1.BitString{Bytes: tx.NonceBytes(), BitLength: 64},
	})
}

// DecodeTx reverses EncodeTx.
func DecodeTx(data []byte) (Tx, error) {
	var a asn1Tx
	if _, err := asn1.Unmarshal(data, &a); err != nil {
		return Tx{}, err
	}

	return Tx{
		Nonce:     NonceFromBytes(a.NonceB.Bytes),
		ToID:      AccountID(a.ToID),
		Value:     uint64(a.Value),
		Tip:       uint64(a.Tip),
		GasLimit:  uint64(a.GasLimit),
		TimeStamp: a.TimeStamp,
		Data:      a.Data.Bytes,
	}, nil
}

package database

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/proofchain/powchain/foundation/blockchain/difficulty"
	"github.com/proofchain/powchain/foundation/blockchain/merkle"
	"github.com/proofchain/powchain/foundation/blockchain/signature"
)

// ErrChainForked is returned when a block's height is far enough ahead of
// the local best block that the local node is presumed to be on the losing
// side of a fork and must resync instead of trying to import incrementally.
var ErrChainForked = errors.New("blockchain forked, start resync")

// Version identifies the header layout understood by this node.
const Version = 1

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Version         uint32             `json:"version"`
	Number          uint64             `json:"number"`            // Height in the chain, 1-based; genesis is 0.
	ParentHash      string             `json:"parent_hash"`       // Hash of the previous block in the chain.
	BeneficiaryID   AccountID          `json:"beneficiary"`       // The account who is receiving fees and the mining reward.
	TimeStamp       uint64             `json:"timestamp"`         // Unix seconds the block was mined.
	Difficulty      difficulty.Compact `json:"difficulty"`        // Compact encoding of the mining target.
	Nonce           uint32             `json:"nonce"`             // Value identified to solve the hash solution.
	TotalDifficulty uint64             `json:"total_difficulty"`  // Cumulative difficulty from genesis through this block.
	StateRoot       string             `json:"state_root"`        // Root hash of the world-state after applying this block.
	TransRoot       string             `json:"trans_root"`        // Merkle tree root hash for the transactions in this block.
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[BlockTx]
}

// NewBlock constructs a new block ready to be mined: height, parent hash,
// and the merkle root are filled in; nonce and total difficulty are left
// zero for the miner to populate on success.
func NewBlock(beneficiaryID AccountID, difficultyCompact difficulty.Compact, parent Block, trans []BlockTx) (Block, error) {
	parentHash := signature.ZeroHash
	if parent.Header.Number > 0 {
		parentHash = parent.Hash()
	}

	tree, err := merkle.NewTree(trans)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Header: BlockHeader{
			Version:       Version,
			Number:        parent.Header.Number + 1,
			ParentHash:    parentHash,
			BeneficiaryID: beneficiaryID,
			TimeStamp:     uint64(time.Now().UTC().Unix()),
			Difficulty:    difficultyCompact,
			TransRoot:     tree.RootHex(),
		},
		Trans: tree,
	}

	return b, nil
}

// HeaderPreimage assembles the 84-byte fixed-layout buffer that is hashed
// twice with SHA-256 to produce the mining hash: version, parent-hash,
// trx-trie-root, time, difficulty (as the raw 64-bit value), nonce — all
// big-endian. This layout is distinct from the JSON encoding used to store
// and transmit the block (BlockData); Block.Hash identifies a block by this
// preimage, so it must never change shape, since block hashes are a
// consensus value.
func HeaderPreimage(h BlockHeader) []byte {
	buf := make([]byte, 84)

	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], hashToBytes(h.ParentHash))
	copy(buf[36:68], hashToBytes(h.TransRoot))
	binary.BigEndian.PutUint32(buf[68:72], uint32(h.TimeStamp))
	binary.BigEndian.PutUint64(buf[72:80], h.Difficulty.ToRaw())
	binary.BigEndian.PutUint32(buf[80:84], h.Nonce)

	return buf
}

// hashToBytes decodes a hex-encoded 32-byte hash, tolerating the zero hash
// and any leading "0x" prefix. Malformed input decodes to 32 zero bytes
// rather than panicking, since this is used for hashing, not validation.
func hashToBytes(h string) []byte {
	buf := make([]byte, 32)

	s := h
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return buf
	}

	if len(decoded) > 32 {
		decoded = decoded[len(decoded)-32:]
	}
	copy(buf[32-len(decoded):], decoded)
	return buf
}

// Hash returns the block's identifying hash: the double-SHA256 digest of
// the mining preimage. This is the hash referenced everywhere a block is
// named: ParentHash of its children, BlockInfo.Hash, repository keys.
func (b Block) Hash() string {
	if b.Header.Number == 0 {
		return signature.ZeroHash
	}

	return "0x" + signature.DoubleSHA256(HeaderPreimage(b.Header))
}

// Satisfies reports whether the block's hash meets its own header's
// declared difficulty target.
func (b Block) Satisfies() bool {
	hash := b.Hash()
	if len(hash) >= 2 && hash[0] == '0' && (hash[1] == 'x' || hash[1] == 'X') {
		hash = hash[2:]
	}
	return b.Header.Difficulty.Satisfies(hash)
}

// ValidateBlock takes a block and validates it against its claimed parent
// before it may be considered for inclusion into the blockchain. This
// covers step 2 of the chain engine's import algorithm except for
// transaction-level checks, which the chain package performs with access
// to the repository's account state.
func (b Block) ValidateBlock(parent Block, evHandler func(v string, args ...any)) error {
	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	nextNumber := parent.Header.Number + 1

	evHandler("database: ValidateBlock: blk[%d]: check: chain is not forked", b.Header.Number)
	if b.Header.Number >= nextNumber+2 {
		return ErrChainForked
	}

	evHandler("database: ValidateBlock: blk[%d]: check: block hash satisfies its declared difficulty", b.Header.Number)
	if !b.Satisfies() {
		return fmt.Errorf("%s invalid block hash for declared difficulty", b.Hash())
	}

	evHandler("database: ValidateBlock: blk[%d]: check: block number is the next number", b.Header.Number)
	if b.Header.Number != nextNumber {
		return fmt.Errorf("this block is not the next number, got %d, exp %d", b.Header.Number, nextNumber)
	}

	evHandler("database: ValidateBlock: blk[%d]: check: parent hash matches known parent", b.Header.Number)
	if b.Header.ParentHash != parent.Hash() {
		return fmt.Errorf("parent block hash doesn't match our known parent, got %s, exp %s", b.Header.ParentHash, parent.Hash())
	}

	evHandler("database: ValidateBlock: blk[%d]: check: total difficulty accumulates from parent", b.Header.Number)
	if b.Header.TotalDifficulty != parent.Header.TotalDifficulty+b.Header.Difficulty.ToRaw() {
		return fmt.Errorf("total difficulty does not accumulate from parent, got %d, exp %d", b.Header.TotalDifficulty, parent.Header.TotalDifficulty+b.Header.Difficulty.ToRaw())
	}

	if parent.Header.TimeStamp > 0 {
		evHandler("database: ValidateBlock: blk[%d]: check: timestamp is after parent's", b.Header.Number)

		parentTime := time.Unix(int64(parent.Header.TimeStamp), 0)
		blockTime := time.Unix(int64(b.Header.TimeStamp), 0)
		if !blockTime.After(parentTime) {
			return fmt.Errorf("block timestamp is before parent block, parent %s, block %s", parentTime, blockTime)
		}
	}

	evHandler("database: ValidateBlock: blk[%d]: check: merkle root matches transactions", b.Header.Number)
	if b.Header.TransRoot != b.Trans.RootHex() {
		return fmt.Errorf("merkle root does not match transactions, got %s, exp %s", b.Trans.RootHex(), b.Header.TransRoot)
	}

	return nil
}

// =============================================================================

// BlockData represents what is written to the repository and over the
// network: the block header plus its flattened transaction list, since the
// merkle tree itself is never serialized directly (see merkle.Tree's
// MarshalText panic).
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"header"`
	Trans  []BlockTx   `json:"trans"`
}

// NewBlockData constructs the value to serialize to disk or the wire.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans.Values(),
	}
}

// ToBlock converts a BlockData back into a Block, rebuilding its merkle
// tree from the flattened transaction list.
func ToBlock(blockData BlockData) (Block, error) {
	tree, err := merkle.NewTree(blockData.Trans)
	if err != nil {
		return Block{}, err
	}

	return Block{
		Header: blockData.Header,
		Trans:  tree,
	}, nil
}

// =============================================================================

// BlockInfo is the per-height fork-choice bookkeeping record. A height may
// have several BlockInfos during a fork; exactly one carries IsMain=true.
type BlockInfo struct {
	Hash            string
	IsMain          bool
	TotalDifficulty uint64
}

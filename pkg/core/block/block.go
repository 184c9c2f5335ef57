package block

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/nspcc-dev/nexa-sim/pkg/core/transaction"
)

// HashLen is the length of a hex-encoded block hash.
const HashLen = sha256.Size * 2

var (
	// ErrClock is returned when the current time can't be obtained for a new
	// block.
	ErrClock = errors.New("system time unavailable")
	// ErrInvalidHash is returned by Verify for blocks with a hash that doesn't
	// match their contents or doesn't satisfy the difficulty.
	ErrInvalidHash = errors.New("invalid block hash")
)

// Block represents one block in the chain.
type Block struct {
	Index uint32 `json:"index"`
	// PrevHash is the hash of the previous block, it's empty for the genesis.
	PrevHash  string `json:"prev_hash"`
	Timestamp uint64 `json:"timestamp"`
	// Transaction list.
	Transactions []*transaction.Transaction `json:"transactions"`
	Nonce        uint64                     `json:"nonce"`
	// Hash is empty until the block is mined.
	Hash string `json:"hash"`
}

// New creates a new unmined block stamped with the current clock time.
func New(index uint32, prevHash string, txs []*transaction.Transaction, clock Clock) (*Block, error) {
	ts, err := clock.Now()
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", index, err)
	}
	if txs == nil {
		txs = []*transaction.Transaction{}
	}
	return &Block{
		Index:        index,
		PrevHash:     prevHash,
		Timestamp:    ts,
		Transactions: txs,
	}, nil
}

// CalculateHash returns hex-encoded SHA-256 of the block contents with the
// current nonce. It doesn't change the block.
func (b *Block) CalculateHash() string {
	return b.calculateHash(make([]byte, 0, 128), transaction.Serialize(b.Transactions))
}

// calculateHash is CalculateHash with a reusable buffer and pre-serialized
// transactions, that's what the miner loop needs.
func (b *Block) calculateHash(buf []byte, txs string) string {
	buf = strconv.AppendUint(buf[:0], uint64(b.Index), 10)
	buf = append(buf, ' ')
	buf = append(buf, b.PrevHash...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, b.Timestamp, 10)
	buf = append(buf, ' ')
	buf = append(buf, txs...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, b.Nonce, 10)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Hasher computes hashes of the same block for different nonces without
// re-serializing its transactions every time.
type Hasher struct {
	b   *Block
	txs string
	buf []byte
}

// NewHasher creates a Hasher for the given block. Block fields other than
// Nonce and Hash must not be changed while it's in use.
func NewHasher(b *Block) *Hasher {
	txs := transaction.Serialize(b.Transactions)
	return &Hasher{
		b:   b,
		txs: txs,
		buf: make([]byte, 0, len(b.PrevHash)+len(txs)+64),
	}
}

// Hash returns the hash of the block with its current nonce.
func (h *Hasher) Hash() string {
	return h.b.calculateHash(h.buf, h.txs)
}

// MeetsDifficulty checks whether the first difficulty characters of the
// given hex hash are all '0'.
func MeetsDifficulty(hash string, difficulty int) bool {
	if len(hash) != HashLen || difficulty > HashLen {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}

// Verify checks that the block hash matches the block contents and satisfies
// the difficulty.
func (b *Block) Verify(difficulty int) error {
	if b.Hash != b.CalculateHash() {
		return fmt.Errorf("%w: block %d hash mismatch", ErrInvalidHash, b.Index)
	}
	if !MeetsDifficulty(b.Hash, difficulty) {
		return fmt.Errorf("%w: block %d hash %s doesn't meet difficulty %d", ErrInvalidHash, b.Index, b.Hash, difficulty)
	}
	return nil
}

// String implements the fmt.Stringer interface.
func (b *Block) String() string {
	return fmt.Sprintf("Block %d: %s", b.Index, transaction.Serialize(b.Transactions))
}

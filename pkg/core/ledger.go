package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nspcc-dev/nexa-sim/pkg/core/block"
	"github.com/nspcc-dev/nexa-sim/pkg/core/transaction"
)

var (
	// ErrBlockNotFound is returned for block indexes out of the chain range.
	ErrBlockNotFound = errors.New("block not found")
	// ErrStaleBlock is returned by AddBlock for blocks that don't extend the
	// current chain tail.
	ErrStaleBlock = errors.New("block doesn't extend the chain tail")
	// ErrInvalidBlock is returned by AddBlock for blocks that fail hash
	// verification.
	ErrInvalidBlock = errors.New("invalid block")
)

// Ledger is an append-only ordered sequence of blocks. It's safe for
// concurrent use: any number of readers, a single writer at a time. Blocks
// returned from it must not be modified.
type Ledger struct {
	// difficulty is the required number of leading zero hex characters.
	difficulty int

	lock   sync.RWMutex
	blocks []*block.Block
	txs    int
}

// TransactionRecord is a transaction along with the data of the block it's
// included into.
type TransactionRecord struct {
	BlockIndex uint32 `json:"block_index"`
	BlockHash  string `json:"block_hash"`
	*transaction.Transaction
}

// NewLedger creates a ledger containing the genesis block only.
func NewLedger(difficulty int, clock block.Clock) (*Ledger, error) {
	genesis, err := block.New(0, "", nil, clock)
	if err != nil {
		return nil, fmt.Errorf("can't create genesis: %w", err)
	}
	l := &Ledger{
		difficulty: difficulty,
		blocks:     []*block.Block{genesis},
	}
	updateLedgerMetrics(len(l.blocks), l.txs)
	return l, nil
}

// Difficulty returns the proof-of-work difficulty required by the ledger.
func (l *Ledger) Difficulty() int {
	return l.difficulty
}

// AddBlock appends a mined block to the chain. The block must be built
// against the current tail (its index and previous hash must match) and its
// hash must be valid. Only linking is done under the lock, mining must
// happen before this call.
func (l *Ledger) AddBlock(b *block.Block) error {
	if err := b.Verify(l.difficulty); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	tail := l.blocks[len(l.blocks)-1]
	if b.Index != uint32(len(l.blocks)) || b.PrevHash != tail.Hash {
		return fmt.Errorf("%w: got block %d with previous hash %q, tail is %d with %q",
			ErrStaleBlock, b.Index, b.PrevHash, tail.Index, tail.Hash)
	}
	l.blocks = append(l.blocks, b)
	l.txs += len(b.Transactions)
	updateLedgerMetrics(len(l.blocks), l.txs)
	return nil
}

// BlockCount returns the number of blocks in the chain (genesis included).
func (l *Ledger) BlockCount() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return len(l.blocks)
}

// TransactionCount returns the number of transactions in all blocks.
func (l *Ledger) TransactionCount() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.txs
}

// Tail returns the last block of the chain.
func (l *Ledger) Tail() *block.Block {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.blocks[len(l.blocks)-1]
}

// Blocks returns a snapshot of the chain.
func (l *Ledger) Blocks() []*block.Block {
	l.lock.RLock()
	defer l.lock.RUnlock()
	res := make([]*block.Block, len(l.blocks))
	copy(res, l.blocks)
	return res
}

// GetBlock returns the block with the given index.
func (l *Ledger) GetBlock(index uint32) (*block.Block, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.getBlock(index)
}

func (l *Ledger) getBlock(index uint32) (*block.Block, error) {
	if uint64(index) >= uint64(len(l.blocks)) {
		return nil, fmt.Errorf("%w: %d (height is %d)", ErrBlockNotFound, index, len(l.blocks)-1)
	}
	return l.blocks[index], nil
}

// Transactions returns transactions of all blocks in chain order.
func (l *Ledger) Transactions() []TransactionRecord {
	l.lock.RLock()
	defer l.lock.RUnlock()
	res := make([]TransactionRecord, 0, l.txs)
	for _, b := range l.blocks {
		res = appendRecords(res, b)
	}
	return res
}

// BlockTransactions returns transactions of the block with the given index.
func (l *Ledger) BlockTransactions(index uint32) ([]TransactionRecord, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	b, err := l.getBlock(index)
	if err != nil {
		return nil, err
	}
	return appendRecords(make([]TransactionRecord, 0, len(b.Transactions)), b), nil
}

func appendRecords(res []TransactionRecord, b *block.Block) []TransactionRecord {
	for _, tx := range b.Transactions {
		res = append(res, TransactionRecord{
			BlockIndex:  b.Index,
			BlockHash:   b.Hash,
			Transaction: tx,
		})
	}
	return res
}

// MarshalJSON implements the json.Marshaler interface.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Chain []*block.Block `json:"chain"`
	}{Chain: l.Blocks()})
}

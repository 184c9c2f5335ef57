package transaction

import (
	"fmt"
	"strings"
)

// Transaction is a value transfer between two parties included into a block.
// It's never changed after creation.
type Transaction struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
	// Signature is carried as is, it's not verified by anyone.
	Signature []byte `json:"signature"`
}

// New creates an unsigned transaction.
func New(from, to string, amount, fee uint64) *Transaction {
	return &Transaction{
		From:   from,
		To:     to,
		Amount: amount,
		Fee:    fee,
	}
}

// String implements the fmt.Stringer interface. The result is a part of the
// block hashing preimage, so it must not be changed.
func (t *Transaction) String() string {
	return fmt.Sprintf("From: %s To: %s Amount: %d Fee: %d", t.From, t.To, t.Amount, t.Fee)
}

// Serialize renders an ordered list of transactions the way it's hashed
// inside a block. Every entry is numbered starting from 1 and followed by a
// single space.
func Serialize(txs []*Transaction) string {
	var sb strings.Builder
	for i, tx := range txs {
		fmt.Fprintf(&sb, "Transaction %d: %s ", i+1, tx)
	}
	return sb.String()
}

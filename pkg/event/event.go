/*
Package event contains domain events describing ledger state transitions and
their wire encoding. Events are plain immutable values, they never reference
ledger internals and can be copied to any number of subscribers.
*/
package event

import (
	"encoding/json"
	"errors"
)

// ID represents an event type.
type ID byte

const (
	// InvalidID is an invalid event id that is the default value of ID. It's
	// only used as an initial value similar to nil.
	InvalidID ID = iota
	// MiningStartedID is a `mining_started` event.
	MiningStartedID
	// BlockMinedID is a `block_mined` event.
	BlockMinedID
	// TransactionCreatedID is a `transaction_created` event.
	TransactionCreatedID
	// LedgerUpdatedID is a `ledger_updated` event.
	LedgerUpdatedID
	// MissedID notifies subscriber of missed events.
	MissedID ID = 255
)

// String is a good old Stringer implementation.
func (e ID) String() string {
	switch e {
	case MiningStartedID:
		return "mining_started"
	case BlockMinedID:
		return "block_mined"
	case TransactionCreatedID:
		return "transaction_created"
	case LedgerUpdatedID:
		return "ledger_updated"
	case MissedID:
		return "event_missed"
	default:
		return "unknown"
	}
}

// GetIDFromString converts input string into an ID if it's possible.
func GetIDFromString(s string) (ID, error) {
	switch s {
	case "mining_started":
		return MiningStartedID, nil
	case "block_mined":
		return BlockMinedID, nil
	case "transaction_created":
		return TransactionCreatedID, nil
	case "ledger_updated":
		return LedgerUpdatedID, nil
	case "event_missed":
		return MissedID, nil
	default:
		return InvalidID, errors.New("invalid event name")
	}
}

// MarshalJSON implements the json.Marshaler interface.
func (e ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (e *ID) UnmarshalJSON(b []byte) error {
	var s string

	err := json.Unmarshal(b, &s)
	if err != nil {
		return err
	}
	id, err := GetIDFromString(s)
	if err != nil {
		return err
	}
	*e = id
	return nil
}

// Event is one of MiningStarted, BlockMined, TransactionCreated,
// LedgerUpdated or Missed. The set is closed, no other types can implement
// it.
type Event interface {
	// ID returns the event type.
	ID() ID
	event()
}

type (
	// MiningStarted is published before the miner starts searching for the
	// block nonce.
	MiningStarted struct {
		BlockIndex uint32 `json:"block_index"`
		Miner      string `json:"miner"`
		Timestamp  uint64 `json:"timestamp"`
	}

	// BlockMined is published when the block nonce is found.
	BlockMined struct {
		BlockIndex uint32 `json:"block_index"`
		Hash       string `json:"hash"`
		Miner      string `json:"miner"`
		Timestamp  uint64 `json:"timestamp"`
		TxCount    int    `json:"transactions_count"`
	}

	// TransactionCreated is published for every transaction included into a
	// block.
	TransactionCreated struct {
		From       string `json:"from"`
		To         string `json:"to"`
		Amount     uint64 `json:"amount"`
		Fee        uint64 `json:"fee"`
		BlockIndex uint32 `json:"block_index"`
	}

	// LedgerUpdated is published after a block is added to the ledger.
	LedgerUpdated struct {
		TotalBlocks       int `json:"total_blocks"`
		TotalTransactions int `json:"total_transactions"`
	}

	// Missed is not published by anyone, it's delivered to subscribers that
	// lagged behind and lost some events.
	Missed struct {
		Count uint64 `json:"count"`
	}
)

// ID implements the Event interface.
func (MiningStarted) ID() ID { return MiningStartedID }

// ID implements the Event interface.
func (BlockMined) ID() ID { return BlockMinedID }

// ID implements the Event interface.
func (TransactionCreated) ID() ID { return TransactionCreatedID }

// ID implements the Event interface.
func (LedgerUpdated) ID() ID { return LedgerUpdatedID }

// ID implements the Event interface.
func (Missed) ID() ID { return MissedID }

func (MiningStarted) event()      {}
func (BlockMined) event()         {}
func (TransactionCreated) event() {}
func (LedgerUpdated) event()      {}
func (Missed) event()             {}

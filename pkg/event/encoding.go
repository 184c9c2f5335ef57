package event

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Frame is the wire representation of an event.
type Frame struct {
	Event   ID              `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type outFrame struct {
	Event   ID    `json:"event"`
	Payload Event `json:"payload"`
}

// Encode returns JSON representation of the event tagged with its name:
//
//	{"event":"block_mined","payload":{...}}
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("can't encode nil event")
	}
	b, err := jsoniter.ConfigFastest.Marshal(outFrame{Event: e.ID(), Payload: e})
	if err != nil {
		return nil, fmt.Errorf("can't encode %s event: %w", e.ID(), err)
	}
	return b, nil
}

// Decode parses an event encoded with Encode.
func Decode(data []byte) (Event, error) {
	var f Frame
	if err := jsoniter.ConfigFastest.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid event frame: %w", err)
	}
	var e Event
	switch f.Event {
	case MiningStartedID:
		e = new(MiningStarted)
	case BlockMinedID:
		e = new(BlockMined)
	case TransactionCreatedID:
		e = new(TransactionCreated)
	case LedgerUpdatedID:
		e = new(LedgerUpdated)
	case MissedID:
		e = new(Missed)
	default:
		return nil, fmt.Errorf("unknown event %s", f.Event)
	}
	if err := jsoniter.ConfigFastest.Unmarshal(f.Payload, e); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", f.Event, err)
	}
	return deref(e), nil
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *MiningStarted:
		return *v
	case *BlockMined:
		return *v
	case *TransactionCreated:
		return *v
	case *LedgerUpdated:
		return *v
	case *Missed:
		return *v
	}
	return e
}

package replication

import (
	"encoding/json"
	"fmt"
)

// Operation is the kind of a change message
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Control messages delimit batches in the stream
const (
	ControlUpToDate    = "up-to-date"
	ControlMustRefetch = "must-refetch"
)

// Headers carries the metadata of one stream message
type Headers struct {
	Operation Operation `json:"operation,omitempty"`
	TxIDs     []int64   `json:"txids,omitempty"`
	Control   string    `json:"control,omitempty"`
}

// Message is one element of a shape response body
type Message struct {
	Key     string          `json:"key,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Headers Headers         `json:"headers"`
}

// IsControl reports whether m carries no row
func (m Message) IsControl() bool {
	return m.Headers.Control != ""
}

// Change is one row change decoded into V
type Change[V any] struct {
	Key   string
	Op    Operation
	Value V
}

// Batch is the set of changes delivered together with the markers they were committed under
type Batch[V any] struct {
	Changes     []Change[V]
	TxIDs       []int64
	UpToDate    bool
	MustRefetch bool
}

// MaxTxID is the highest marker in the batch, or 0
func (b Batch[V]) MaxTxID() int64 {
	var highest int64
	for _, txid := range b.TxIDs {
		if txid > highest {
			highest = txid
		}
	}
	return highest
}

// ParseMessages decodes a shape response body
func ParseMessages(body []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("decode shape messages: %w", err)
	}
	return msgs, nil
}

// DecodeBatch turns stream messages into a typed batch.
// Update values are decoded as whole rows, so subscribe with replica=full.
func DecodeBatch[V any](msgs []Message) (Batch[V], error) {
	var b Batch[V]
	for _, m := range msgs {
		switch m.Headers.Control {
		case ControlUpToDate:
			b.UpToDate = true
			continue
		case ControlMustRefetch:
			b.MustRefetch = true
			continue
		case "":
		default:
			continue
		}

		change := Change[V]{Key: m.Key, Op: m.Headers.Operation}
		if m.Headers.Operation != OpDelete && len(m.Value) > 0 {
			if err := json.Unmarshal(m.Value, &change.Value); err != nil {
				return Batch[V]{}, fmt.Errorf("decode value for %s: %w", m.Key, err)
			}
		}
		b.Changes = append(b.Changes, change)
		b.TxIDs = append(b.TxIDs, m.Headers.TxIDs...)
	}
	return b, nil
}

// Package realtime defines the real-time wire messages and the server-side
// hub that fans group change notifications out to WebSocket clients.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned by Decode for payloads that are not a known message.
var ErrMalformed = errors.New("malformed real-time message")

// MessageType discriminates real-time messages.
type MessageType string

const (
	TypePing         MessageType = "ping"          // client -> server
	TypePong         MessageType = "pong"          // server -> client
	TypeConnected    MessageType = "connected"     // server -> client, once per connection
	TypeRefreshGroup MessageType = "refresh_group" // something in the group changed
	TypeEntryUpdated MessageType = "entry_updated" // a single entry changed
	TypeError        MessageType = "error"
)

// Actions carried by refresh_group. Receivers refetch the group for every
// action except ActionEntryUpdated with a receipt ID, which only touched
// that receipt.
const (
	ActionGroupUpdated    = "group_updated"
	ActionReceiptCreated  = "receipt_created"
	ActionReceiptUpdated  = "receipt_updated"
	ActionReceiptDeleted  = "receipt_deleted"
	ActionEntryCreated    = "entry_created"
	ActionEntryDeleted    = "entry_deleted"
	ActionEntryUpdated    = "entry_updated"
	ActionMultipleChanges = "multiple_changes"
)

// Message is the single JSON shape used in both directions.
type Message struct {
	Type      MessageType `json:"type"`
	GroupID   string      `json:"group_id,omitempty"`
	Action    string      `json:"action,omitempty"`
	ReceiptID string      `json:"receipt_id,omitempty"`
	EntryID   string      `json:"entry_id,omitempty"`
	EntryIDs  []string    `json:"entry_ids,omitempty"` // entries edited in a batched refresh_group
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Decode parses and checks a message. Unknown types, or an entry_updated
// without an entry ID, are reported as ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch m.Type {
	case TypePing, TypePong, TypeConnected, TypeRefreshGroup, TypeError:
	case TypeEntryUpdated:
		if m.EntryID == "" {
			return Message{}, fmt.Errorf("%w: entry_updated without entry_id", ErrMalformed)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return m, nil
}

// Encode marshals m, stamping it with the current time when unset.
func Encode(m Message) ([]byte, error) {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().Unix()
	}
	return json.Marshal(m)
}

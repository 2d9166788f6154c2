// Package events publishes turn progress (block updates, action state
// changes, approval progress) to observers over a watermill bus.
package events

import (
	"encoding/json"
	"time"
)

// Type identifies an event payload.
type Type string

const (
	TypeBlockUpdated      Type = "block_updated"
	TypeActionState       Type = "action_state"
	TypeApprovalRequested Type = "approval_requested"
	TypeApprovalProgress  Type = "approval_progress"
	TypeTurnReady         Type = "turn_ready"
)

// Event is a payload that can be published on the bus.
type Event interface {
	EventType() Type
}

// BlockUpdated reports a new snapshot of a parsed block.
type BlockUpdated struct {
	TurnID     string            `json:"turn_id"`
	Index      int               `json:"index"`
	Kind       string            `json:"kind"`
	ActionName string            `json:"action_name,omitempty"`
	Text       string            `json:"text,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Partial    bool              `json:"partial"`
	IsNew      bool              `json:"is_new"`
}

// ActionStateChanged reports a transition of an action block.
type ActionStateChanged struct {
	TurnID     string `json:"turn_id"`
	Index      int    `json:"index"`
	ActionName string `json:"action_name"`
	State      string `json:"state"`
	Result     string `json:"result,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ApprovalRequested reports that an action is waiting for a human decision.
type ApprovalRequested struct {
	TurnID     string            `json:"turn_id"`
	RequestID  string            `json:"request_id"`
	ActionName string            `json:"action_name"`
	Category   string            `json:"category,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

// ApprovalProgress is a fire-and-forget progress update from a running action.
type ApprovalProgress struct {
	TurnID     string  `json:"turn_id"`
	ActionName string  `json:"action_name"`
	Message    string  `json:"message"`
	Percent    float64 `json:"percent,omitempty"`
}

// TurnReady reports that a turn reached its terminal state.
type TurnReady struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Results        int    `json:"results"`
	Mistakes       int    `json:"mistakes"`
	Cancelled      bool   `json:"cancelled,omitempty"`
}

func (BlockUpdated) EventType() Type       { return TypeBlockUpdated }
func (ActionStateChanged) EventType() Type { return TypeActionState }
func (ApprovalRequested) EventType() Type  { return TypeApprovalRequested }
func (ApprovalProgress) EventType() Type   { return TypeApprovalProgress }
func (TurnReady) EventType() Type          { return TypeTurnReady }

// Envelope is the wire form of an event.
type Envelope struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Encode wraps e in an envelope and serializes it.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      e.EventType(),
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Decode parses an envelope and its typed payload. Unknown types yield a
// nil Event and no error.
func Decode(b []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, nil, err
	}

	var (
		e   Event
		err error
	)
	switch env.Type {
	case TypeBlockUpdated:
		e, err = decodeAs[BlockUpdated](env.Data)
	case TypeActionState:
		e, err = decodeAs[ActionStateChanged](env.Data)
	case TypeApprovalRequested:
		e, err = decodeAs[ApprovalRequested](env.Data)
	case TypeApprovalProgress:
		e, err = decodeAs[ApprovalProgress](env.Data)
	case TypeTurnReady:
		e, err = decodeAs[TurnReady](env.Data)
	}
	return env, e, err
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

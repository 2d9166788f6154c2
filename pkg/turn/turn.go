// Package turn drives one agent response through parsing, validation,
// approval, dispatch and result collection.
package turn

import (
	"errors"

	"github.com/harun/actuator/pkg/blockparser"
	"github.com/harun/actuator/pkg/resultsink"
)

var (
	// ErrTurnNotReady is returned by Drain before the turn is ready.
	ErrTurnNotReady = errors.New("turn not ready")
	// ErrTurnActive is returned by Start while the conversation has a running turn.
	ErrTurnActive = errors.New("conversation already has an active turn")
	// ErrRunClosed is returned when feeding a run that no longer accepts input.
	ErrRunClosed = errors.New("run closed")
)

// ActionState is the lifecycle position of an action block.
type ActionState string

const (
	StateParsed           ActionState = "parsed"
	StateValidated        ActionState = "validated"
	StateAwaitingApproval ActionState = "awaiting_approval"
	StateApproved         ActionState = "approved"
	StateExecuting        ActionState = "executing"
	StateCompleted        ActionState = "completed"
	StateFailed           ActionState = "failed"
	StateRejected         ActionState = "rejected"
)

// Turn is the mutable record of one response. Only the run loop touches it.
type Turn struct {
	ID             string
	ConversationID string

	Blocks []blockparser.Block
	Cursor int

	ActiveActionInFlight  bool
	RejectedByUser        bool
	ActionAlreadyExecuted bool
	MistakeCount          int
	Ready                 bool

	Sink *resultsink.Sink

	endOfStream bool
	fatal       error
	cancelled   bool
}

func (t *Turn) apply(ev blockparser.Event) {
	for len(t.Blocks) <= ev.Index {
		t.Blocks = append(t.Blocks, nil)
	}
	t.Blocks[ev.Index] = ev.Block
}

// next returns the block at the cursor if it is complete.
func (t *Turn) next() (blockparser.Block, bool) {
	if t.Cursor >= len(t.Blocks) {
		return nil, false
	}
	b := t.Blocks[t.Cursor]
	if b == nil || b.IsPartial() {
		return nil, false
	}
	return b, true
}

func (t *Turn) finished() bool {
	return t.endOfStream && t.Cursor >= len(t.Blocks)
}

// State is an immutable snapshot of a Turn.
type State struct {
	TurnID                string `json:"turn_id"`
	ConversationID        string `json:"conversation_id"`
	Blocks                int    `json:"blocks"`
	Cursor                int    `json:"cursor"`
	ActiveActionInFlight  bool   `json:"active_action_in_flight"`
	RejectedByUser        bool   `json:"rejected_by_user"`
	ActionAlreadyExecuted bool   `json:"action_already_executed"`
	MistakeCount          int    `json:"mistake_count"`
	Results               int    `json:"results"`
	EndOfStream           bool   `json:"end_of_stream"`
	Ready                 bool   `json:"ready"`
	Cancelled             bool   `json:"cancelled,omitempty"`
}

func (t *Turn) snapshot() State {
	return State{
		TurnID:                t.ID,
		ConversationID:        t.ConversationID,
		Blocks:                len(t.Blocks),
		Cursor:                t.Cursor,
		ActiveActionInFlight:  t.ActiveActionInFlight,
		RejectedByUser:        t.RejectedByUser,
		ActionAlreadyExecuted: t.ActionAlreadyExecuted,
		MistakeCount:          t.MistakeCount,
		Results:               t.Sink.Len(),
		EndOfStream:           t.endOfStream,
		Ready:                 t.Ready,
		Cancelled:             t.cancelled,
	}
}

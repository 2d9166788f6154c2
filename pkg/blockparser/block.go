package blockparser

import (
	"github.com/harun/actuator/pkg/action"
)

// Block is one segment of an agent response: either prose or an action request.
type Block interface {
	isBlock()
	// IsPartial reports whether more input may still change the block.
	IsPartial() bool
}

// TextBlock is a run of plain prose.
type TextBlock struct {
	Text    string
	Partial bool
}

// ActionBlock is a request to invoke a named action.
// While Partial is true, Params are provisional and must not be acted on.
type ActionBlock struct {
	Name    string
	Params  action.Params
	Partial bool
	// Unterminated is set when the stream ended before the closing tag.
	Unterminated bool
}

func (TextBlock) isBlock()   {}
func (ActionBlock) isBlock() {}

func (b TextBlock) IsPartial() bool   { return b.Partial }
func (b ActionBlock) IsPartial() bool { return b.Partial }

// Event reports the latest snapshot of the block at Index.
type Event struct {
	Index int
	Block Block
	// IsNew is true the first time a block is reported.
	IsNew bool
}

// Final reports whether this is the block's last event.
func (e Event) Final() bool {
	return !e.Block.IsPartial()
}

package action

import "fmt"

// Kind identifies the variant of a Result.
type Kind string

const (
	KindSuccess         Kind = "success"
	KindValidationError Kind = "validation_error"
	KindRejected        Kind = "rejected"
	KindExecutionError  Kind = "execution_error"
)

// Result is the terminal outcome of one action block.
// The set of variants is closed: Success, ValidationError, Rejected, ExecutionError.
type Result interface {
	isResult()
	Kind() Kind
	// Text is the human readable body of the result.
	Text() string
}

// Success carries the payload emitted by the handler.
type Success struct {
	Payload   string `json:"payload"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ValidationError means the request never reached a handler.
type ValidationError struct {
	Reason string `json:"reason"`
}

// Rejected means a human (or the turn) declined the action.
type Rejected struct {
	Reason string `json:"reason"`
}

// ExecutionError means the handler ran and failed.
type ExecutionError struct {
	Message string `json:"message"`
}

func (Success) isResult()         {}
func (ValidationError) isResult() {}
func (Rejected) isResult()        {}
func (ExecutionError) isResult()  {}

func (Success) Kind() Kind         { return KindSuccess }
func (ValidationError) Kind() Kind { return KindValidationError }
func (Rejected) Kind() Kind        { return KindRejected }
func (ExecutionError) Kind() Kind  { return KindExecutionError }

func (r Success) Text() string         { return r.Payload }
func (r ValidationError) Text() string { return r.Reason }
func (r Rejected) Text() string        { return r.Reason }
func (r ExecutionError) Text() string  { return r.Message }

// IsSuccess reports whether r is a Success.
func IsSuccess(r Result) bool {
	_, ok := r.(Success)
	return ok
}

// IsRejected reports whether r is a Rejected.
func IsRejected(r Result) bool {
	_, ok := r.(Rejected)
	return ok
}

// ResultEntry is one item of a turn's output, in block order.
type ResultEntry struct {
	BlockIndex   int    `json:"block_index"`
	ActionName   string `json:"action_name"`
	Params       Params `json:"params"`
	Result       Result `json:"-"`
	RenderedText string `json:"rendered_text"`
}

func (e ResultEntry) String() string {
	if e.Result == nil {
		return fmt.Sprintf("%s#%d: <pending>", e.ActionName, e.BlockIndex)
	}
	return fmt.Sprintf("%s#%d: %s: %s", e.ActionName, e.BlockIndex, e.Result.Kind(), e.Result.Text())
}

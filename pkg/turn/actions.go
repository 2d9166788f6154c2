package turn

import (
	"fmt"
	"time"

	"github.com/harun/actuator/internal/observability"
	"github.com/harun/actuator/internal/tracing"
	"github.com/harun/actuator/pkg/action"
	"github.com/harun/actuator/pkg/approval"
	"github.com/harun/actuator/pkg/blockparser"
	"github.com/harun/actuator/pkg/dispatch"
	"github.com/harun/actuator/pkg/events"
)

const alreadyExecutedReason = "an action was already executed in this turn; " +
	"wait for its result before requesting another"

// processAction takes one complete action block to a terminal state and
// records exactly one result for it.
func (r *Run) processAction(index int, ab blockparser.ActionBlock) {
	t := r.turn
	logger := r.logger.With().Str("action", ab.Name).Int("block_index", index).Logger()
	r.transition(index, ab.Name, StateParsed, "")

	if t.RejectedByUser {
		logger.Debug().Msg("Skipping action after user rejection")
		r.conclude(index, ab, action.Rejected{
			Reason: "skipped because an earlier action in this turn was rejected",
		})
		return
	}

	if t.ActionAlreadyExecuted {
		logger.Debug().Msg("Refusing second action in turn")
		r.conclude(index, ab, action.ValidationError{Reason: alreadyExecutedReason})
		return
	}

	if !r.o.registry.Has(ab.Name) {
		t.MistakeCount++
		r.conclude(index, ab, r.o.registry.Dispatch(r.ctx, r.call(index, ab), r.o.gate))
		return
	}

	decision := r.o.validator.Validate(ab.Name, r.o.profiles.ActiveProfile())
	observability.RecordValidation(decision.Allowed, string(decision.Violation))
	if !decision.Allowed {
		t.MistakeCount++
		logger.Info().Str("violation", string(decision.Violation)).Msg("Action denied by permission profile")
		r.conclude(index, ab, action.ValidationError{Reason: decision.Reason})
		return
	}

	if err := r.o.registry.CheckParams(ab.Name, ab.Params); err != nil {
		t.MistakeCount++
		logger.Info().Err(err).Msg("Malformed action parameters")
		r.conclude(index, ab, action.ValidationError{Reason: err.Error()})
		return
	}
	r.transition(index, ab.Name, StateValidated, decision.Reason)

	category, _ := r.o.registry.Category(ab.Name)
	r.transition(index, ab.Name, StateAwaitingApproval, "")
	approvalCtx := tracing.PropagateToAction(r.ctx, ab.Name)
	answer := r.o.gate.RequestApproval(approvalCtx, approval.Request{
		TurnID:     t.ID,
		ActionName: ab.Name,
		Category:   string(category),
		Params:     ab.Params.Clone(),
	})
	if !answer.Approved() {
		t.RejectedByUser = true
		logger.Info().Str("reason", answer.Reason).Msg("Action rejected")
		r.conclude(index, ab, action.Rejected{Reason: answer.Reason})
		return
	}
	r.transition(index, ab.Name, StateApproved, answer.Reason)

	t.ActiveActionInFlight = true
	r.transition(index, ab.Name, StateExecuting, "")
	start := time.Now()
	result := r.o.registry.Dispatch(r.ctx, r.call(index, ab), r.o.gate)
	t.ActiveActionInFlight = false
	t.ActionAlreadyExecuted = true

	if action.IsRejected(result) {
		t.RejectedByUser = true
	}

	logger.Debug().
		Str("result", string(result.Kind())).
		Dur("duration", time.Since(start)).
		Msg("Action finished")
	r.conclude(index, ab, result)
}

func (r *Run) call(index int, ab blockparser.ActionBlock) dispatch.Call {
	return dispatch.Call{
		TurnID:     r.turn.ID,
		BlockIndex: index,
		Name:       ab.Name,
		Params:     ab.Params.Clone(),
	}
}

// conclude records the block's result and publishes its terminal state.
func (r *Run) conclude(index int, ab blockparser.ActionBlock, result action.Result) {
	r.turn.Sink.Add(index, ab.Name, ab.Params, result)

	events.PublishBlind(r.eventCtx, r.o.bus, events.ActionStateChanged{
		TurnID:     r.turn.ID,
		Index:      index,
		ActionName: ab.Name,
		State:      string(terminalState(result)),
		Result:     string(result.Kind()),
		Reason:     result.Text(),
	})
	r.publishState()
}

func (r *Run) transition(index int, name string, state ActionState, reason string) {
	events.PublishBlind(r.eventCtx, r.o.bus, events.ActionStateChanged{
		TurnID:     r.turn.ID,
		Index:      index,
		ActionName: name,
		State:      string(state),
		Reason:     reason,
	})
	r.publishState()
}

func terminalState(result action.Result) ActionState {
	switch result.Kind() {
	case action.KindSuccess:
		return StateCompleted
	case action.KindRejected:
		return StateRejected
	default:
		return StateFailed
	}
}

// String implements fmt.Stringer.
func (s State) String() string {
	return fmt.Sprintf("turn %s: cursor %d/%d, results %d, ready %t",
		s.TurnID, s.Cursor, s.Blocks, s.Results, s.Ready)
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/actuator/internal/observability"
	"github.com/harun/actuator/internal/tracing"
	"github.com/harun/actuator/pkg/action"
	"github.com/harun/actuator/pkg/approval"
)

const truncationMarker = "\n... [output truncated]"

type panicError struct {
	value interface{}
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// Dispatch runs the handler registered for call.Name and converts every
// outcome into a Result. It never returns an error and never panics.
func (r *Registry) Dispatch(ctx context.Context, call Call, gate approval.Gate) action.Result {
	start := time.Now()

	def, _, ok := r.lookup(call.Name)
	if !ok {
		result := unknownAction(call)
		r.record(ctx, call, result, time.Since(start))
		return result
	}

	ctx = tracing.PropagateToAction(ctx, call.Name)
	ctx, span := tracing.StartSpan(ctx, "dispatch", "action.dispatch",
		attribute.Int("actuator.block_index", call.BlockIndex),
		attribute.String("actuator.category", string(def.Category)),
	)
	defer span.End()

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caps := newCapabilities(call, def.Category, gate)
	done := make(chan error, 1)

	log.Debug().
		Str("turn_id", call.TurnID).
		Str("action", call.Name).
		Int("block_index", call.BlockIndex).
		Msg("Dispatching action")

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- panicError{value: p}
			}
		}()
		done <- def.handler(runCtx, call, caps)
	}()

	var handlerErr error
	var finished bool
	select {
	case handlerErr = <-done:
		finished = true
	case <-runCtx.Done():
	}

	output, reported, rejected, rejectReason := caps.close()

	var result action.Result
	switch {
	case rejected:
		result = action.Rejected{Reason: rejectReason}
	case handlerErr != nil && errors.Is(handlerErr, action.ErrRejected):
		result = action.Rejected{Reason: handlerErr.Error()}
	case ctx.Err() != nil:
		result = action.ExecutionError{Message: action.ErrCancelled.Error()}
	case !finished || (errors.Is(handlerErr, context.DeadlineExceeded) && runCtx.Err() != nil):
		result = action.ExecutionError{Message: fmt.Sprintf("action %s after %v", action.ErrTimeout, timeout)}
	case handlerErr != nil:
		result = action.ExecutionError{Message: handlerErr.Error()}
	case reported != nil:
		result = action.ExecutionError{Message: reported.Error()}
	default:
		payload, truncated := truncate(output, r.maxOutputBytes)
		result = action.Success{Payload: payload, Truncated: truncated}
	}

	if result.Kind() != action.KindSuccess {
		span.SetStatus(codes.Error, result.Text())
	}
	span.SetAttributes(attribute.String("actuator.result", string(result.Kind())))

	r.record(ctx, call, result, time.Since(start))
	return result
}

func unknownAction(call Call) action.Result {
	log.Warn().
		Str("turn_id", call.TurnID).
		Str("action", call.Name).
		Msg("Dispatch of unknown action")
	return action.ValidationError{Reason: action.ErrUnknownAction.Error()}
}

func (r *Registry) record(ctx context.Context, call Call, result action.Result, duration time.Duration) {
	observability.RecordActionDispatch(call.Name, string(result.Kind()), duration)
	observability.AuditActionDispatch(ctx, call.TurnID, call.Name, auditStatus(result), map[string]interface{}{
		"block_index": call.BlockIndex,
		"result":      string(result.Kind()),
		"duration_ms": duration.Milliseconds(),
	})

	event := log.Debug()
	if result.Kind() == action.KindExecutionError {
		event = log.Error()
	}
	event.
		Str("turn_id", call.TurnID).
		Str("action", call.Name).
		Str("result", string(result.Kind())).
		Dur("duration", duration).
		Msg("Action dispatch finished")
}

func auditStatus(result action.Result) string {
	switch result.Kind() {
	case action.KindSuccess:
		return "success"
	case action.KindRejected:
		return "rejected"
	default:
		return "failure"
	}
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	log.Warn().
		Int("original", len(s)).
		Int("truncated", cut).
		Msg("Output truncated")

	return s[:cut] + truncationMarker, true
}

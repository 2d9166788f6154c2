package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToAction derives the context a handler runs under. The turn and
// trace IDs are kept; the action name is replaced.
func PropagateToAction(ctx context.Context, actionName string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithActionName(ctx, actionName)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.TurnID != "" {
		logger = logger.With().Str("turn_id", tc.TurnID).Logger()
	}
	if tc.ConversationID != "" {
		logger = logger.With().Str("conversation_id", tc.ConversationID).Logger()
	}
	if tc.ActionName != "" {
		logger = logger.With().Str("action", tc.ActionName).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext merges tracing information from source context into target context
// without overwriting what target already carries.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.TurnID != "" && GetTurnID(target) == "" {
		target = WithTurnID(target, tc.TurnID)
	}
	if tc.ConversationID != "" && GetConversationID(target) == "" {
		target = WithConversationID(target, tc.ConversationID)
	}
	if tc.ActionName != "" && GetActionName(target) == "" {
		target = WithActionName(target, tc.ActionName)
	}

	return target
}

// CloneContext creates a new background context with the same tracing
// information. Used for work that must outlive the caller's cancellation.
func CloneContext(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	return NewContext(context.Background(), tc)
}

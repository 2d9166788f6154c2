package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for the turn being orchestrated
	TurnIDKey ContextKey = "turn_id"
	// ConversationIDKey is the context key for the conversation a turn belongs to
	ConversationIDKey ContextKey = "conversation_id"
	// ActionNameKey is the context key for the action being dispatched
	ActionNameKey ContextKey = "action"
	// RequestIDKey is the context key for an approval request ID
	RequestIDKey ContextKey = "request_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID        string
	TurnID         string
	ConversationID string
	ActionName     string
	RequestID      string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithConversationID adds a conversation ID to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithActionName adds the dispatched action name to the context
func WithActionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ActionNameKey, name)
}

// WithRequestID adds an approval request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string {
	return getString(ctx, TurnIDKey)
}

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string {
	return getString(ctx, ConversationIDKey)
}

// GetActionName retrieves the action name from the context
func GetActionName(ctx context.Context) string {
	return getString(ctx, ActionNameKey)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:        GetTraceID(ctx),
		TurnID:         GetTurnID(ctx),
		ConversationID: GetConversationID(ctx),
		ActionName:     GetActionName(ctx),
		RequestID:      GetRequestID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TurnID != "" {
		ctx = WithTurnID(ctx, tc.TurnID)
	}
	if tc.ConversationID != "" {
		ctx = WithConversationID(ctx, tc.ConversationID)
	}
	if tc.ActionName != "" {
		ctx = WithActionName(ctx, tc.ActionName)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	return ctx
}

// NewTurnContext creates a context for a turn. A trace ID is generated if
// the parent carries none.
func NewTurnContext(ctx context.Context, turnID, conversationID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithTurnID(ctx, turnID)
	if conversationID != "" {
		ctx = WithConversationID(ctx, conversationID)
	}
	return ctx
}

package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditKind groups audit records.
type AuditKind string

const (
	AuditAction   AuditKind = "action"
	AuditApproval AuditKind = "approval"
	AuditTurn     AuditKind = "turn"
)

// AuditRecord is one line of the audit trail. Subject is the action name,
// or the conversation for turn records.
type AuditRecord struct {
	Kind    AuditKind
	TurnID  string
	Subject string
	Outcome string
	Fields  map[string]interface{}
}

// AuditTrail appends one JSON line per record. Records made under a valid
// span also become span events.
type AuditTrail struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditTrail writes records to w.
func NewAuditTrail(w io.Writer) *AuditTrail {
	return &AuditTrail{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// OpenAuditTrail appends records to the file at path.
func OpenAuditTrail(path string) (*AuditTrail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	a := NewAuditTrail(file)
	a.closer = file
	return a, nil
}

// Record writes rec.
func (a *AuditTrail) Record(ctx context.Context, rec AuditRecord) {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if sc.IsValid() {
		span.AddEvent("audit."+string(rec.Kind), trace.WithAttributes(
			attribute.String("actuator.action", rec.Subject),
			attribute.String("actuator.outcome", rec.Outcome),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("kind", string(rec.Kind)).
		Str("turn_id", rec.TurnID).
		Str("subject", rec.Subject).
		Str("outcome", rec.Outcome)
	if sc.IsValid() {
		entry.Str("trace_id", sc.TraceID().String())
	}
	if len(rec.Fields) > 0 {
		entry.Fields(rec.Fields)
	}
	entry.Send()
}

// Close releases the underlying file, if any.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

var trail atomic.Pointer[AuditTrail]

func init() {
	trail.Store(NewAuditTrail(io.Discard))
}

// SetAuditTrail installs a as the process-wide trail and returns the one it
// replaced.
func SetAuditTrail(a *AuditTrail) *AuditTrail {
	if a == nil {
		a = NewAuditTrail(io.Discard)
	}
	return trail.Swap(a)
}

// AuditActionDispatch records the result of running a handler.
func AuditActionDispatch(ctx context.Context, turnID, name, outcome string, fields map[string]interface{}) {
	trail.Load().Record(ctx, AuditRecord{Kind: AuditAction, TurnID: turnID, Subject: name, Outcome: outcome, Fields: fields})
}

// AuditApprovalDecision records how an approval request was answered.
func AuditApprovalDecision(ctx context.Context, turnID, name, outcome string, fields map[string]interface{}) {
	trail.Load().Record(ctx, AuditRecord{Kind: AuditApproval, TurnID: turnID, Subject: name, Outcome: outcome, Fields: fields})
}

// AuditTurnReady records the end of a turn.
func AuditTurnReady(ctx context.Context, turnID, conversationID, status string, fields map[string]interface{}) {
	trail.Load().Record(ctx, AuditRecord{Kind: AuditTurn, TurnID: turnID, Subject: conversationID, Outcome: status, Fields: fields})
}

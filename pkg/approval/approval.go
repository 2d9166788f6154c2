package approval

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harun/actuator/internal/observability"
	"github.com/harun/actuator/internal/tracing"
	"github.com/harun/actuator/pkg/action"
	"github.com/harun/actuator/pkg/events"
)

// Outcome is the answer to an approval request.
type Outcome int

const (
	Denied Outcome = iota
	Approved
)

func (o Outcome) String() string {
	if o == Approved {
		return "approved"
	}
	return "denied"
}

// Progress is a fire-and-forget update from an action that was already approved.
type Progress struct {
	Message string  `json:"message"`
	Percent float64 `json:"percent,omitempty"`
}

// Request asks a human to authorize an action, or carries a progress update.
type Request struct {
	ID         string        `json:"id"`
	TurnID     string        `json:"turn_id"`
	ActionName string        `json:"action_name"`
	Category   string        `json:"category,omitempty"`
	Params     action.Params `json:"params"`
	Detail     string        `json:"detail,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	// Progress turns the request into a notification; nobody is asked.
	Progress *Progress `json:"progress,omitempty"`
}

// Decision is the gate's answer.
type Decision struct {
	Outcome Outcome
	Reason  string
	// Auto is set when no human was asked.
	Auto bool
}

// Approved reports whether the decision approves the action.
func (d Decision) Approved() bool {
	return d.Outcome == Approved
}

// Gate suspends an action until it is authorized. It never returns an
// error: failures, timeouts and cancellation resolve to Denied.
type Gate interface {
	RequestApproval(ctx context.Context, req Request) Decision
}

// Response is what a Handler reports back.
type Response struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Handler presents a request to a human. It is the boundary to any UI.
type Handler interface {
	RequestApproval(ctx context.Context, req Request) (Response, error)
}

// AutoPolicy lists categories and action patterns approved without asking.
type AutoPolicy struct {
	Categories []string `json:"categories" mapstructure:"categories"`
	Actions    []string `json:"actions" mapstructure:"actions"`
}

// Matches reports whether req is covered by the policy.
func (p AutoPolicy) Matches(req Request) (string, bool) {
	for _, c := range p.Categories {
		if c != "" && c == req.Category {
			return fmt.Sprintf("category '%s' is auto-approved", c), true
		}
	}
	for _, pattern := range p.Actions {
		if pattern == "*" || pattern == req.ActionName {
			return fmt.Sprintf("action '%s' is auto-approved", req.ActionName), true
		}
		if ok, err := path.Match(pattern, req.ActionName); err == nil && ok {
			return fmt.Sprintf("action '%s' is auto-approved", req.ActionName), true
		}
	}
	return "", false
}

// Manager is the default Gate: auto-approval first, then the handler with a timeout.
type Manager struct {
	handler        Handler
	policy         AutoPolicy
	allowlist      *Allowlist
	bus            events.Bus
	defaultTimeout time.Duration
	mu             sync.RWMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAutoPolicy sets the auto-approval policy.
func WithAutoPolicy(p AutoPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithAllowlist approves actions found in the allowlist without asking.
func WithAllowlist(a *Allowlist) ManagerOption {
	return func(m *Manager) { m.allowlist = a }
}

// WithBus publishes approval events to bus.
func WithBus(bus events.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithTimeout sets the default time a human has to answer.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// NewManager creates a new approval manager
func NewManager(handler Handler, opts ...ManagerOption) *Manager {
	m := &Manager{
		handler:        handler,
		bus:            events.NopBus{},
		defaultTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetHandler sets the approval handler
func (m *Manager) SetHandler(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// GetDefaultTimeout returns the default timeout
func (m *Manager) GetDefaultTimeout() time.Duration {
	return m.defaultTimeout
}

// RequestApproval implements Gate.
func (m *Manager) RequestApproval(ctx context.Context, req Request) Decision {
	if req.Progress != nil {
		events.PublishBlind(ctx, m.bus, events.ApprovalProgress{
			TurnID:     req.TurnID,
			ActionName: req.ActionName,
			Message:    req.Progress.Message,
			Percent:    req.Progress.Percent,
		})
		return Decision{Outcome: Approved, Reason: "progress update", Auto: true}
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if reason, ok := m.policy.Matches(req); ok {
		return m.auto(ctx, req, reason)
	}
	if m.allowlist != nil && m.allowlist.IsAllowed(req.ActionName) {
		return m.auto(ctx, req, "approved by allowlist")
	}

	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler == nil {
		return m.finish(ctx, req, time.Now(), Decision{Outcome: Denied, Reason: "no approval handler configured"})
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = m.defaultTimeout
	}

	ctx, span := tracing.StartSpan(ctx, "approval", "approval.request")
	defer span.End()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info().
		Str("request_id", req.ID).
		Str("turn_id", req.TurnID).
		Str("action", req.ActionName).
		Msg("Requesting approval")

	events.PublishBlind(ctx, m.bus, events.ApprovalRequested{
		TurnID:     req.TurnID,
		RequestID:  req.ID,
		ActionName: req.ActionName,
		Category:   req.Category,
		Params:     req.Params.Values,
		Detail:     req.Detail,
	})

	start := time.Now()
	responseChan := make(chan Response, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := handler.RequestApproval(timeoutCtx, req)
		if err != nil {
			errorChan <- err
		} else {
			responseChan <- response
		}
	}()

	select {
	case response := <-responseChan:
		if response.Approved {
			return m.finish(ctx, req, start, Decision{Outcome: Approved, Reason: response.Reason})
		}
		reason := response.Reason
		if reason == "" {
			reason = "denied by user"
		}
		return m.finish(ctx, req, start, Decision{Outcome: Denied, Reason: reason})

	case err := <-errorChan:
		if ctx.Err() != nil {
			return m.finish(ctx, req, start, Decision{Outcome: Denied, Reason: "approval cancelled"})
		}
		if timeoutCtx.Err() != nil {
			return m.finish(ctx, req, start, Decision{Outcome: Denied, Reason: fmt.Sprintf("approval request timed out after %v", timeout)})
		}
		log.Error().
			Err(err).
			Str("action", req.ActionName).
			Msg("Approval request failed")
		return m.finish(ctx, req, start, Decision{Outcome: Denied, Reason: fmt.Sprintf("approval request failed: %v", err)})

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return m.finish(ctx, req, start, Decision{Outcome: Denied, Reason: "approval cancelled"})
		}
		log.Warn().
			Str("action", req.ActionName).
			Dur("timeout", timeout).
			Msg("Approval request timed out")
		return m.finish(ctx, req, start, Decision{Outcome: Denied, Reason: fmt.Sprintf("approval request timed out after %v", timeout)})
	}
}

func (m *Manager) auto(ctx context.Context, req Request, reason string) Decision {
	log.Debug().
		Str("action", req.ActionName).
		Str("reason", reason).
		Msg("Action auto-approved")
	return m.finish(ctx, req, time.Now(), Decision{Outcome: Approved, Reason: reason, Auto: true})
}

func (m *Manager) finish(ctx context.Context, req Request, start time.Time, d Decision) Decision {
	observability.RecordApproval(d.Outcome.String(), d.Auto, time.Since(start))
	observability.AuditApprovalDecision(ctx, req.TurnID, req.ActionName, d.Outcome.String(), map[string]interface{}{
		"request_id": req.ID,
		"reason":     d.Reason,
		"auto":       d.Auto,
	})

	if d.Approved() {
		log.Info().
			Str("action", req.ActionName).
			Str("reason", d.Reason).
			Msg("Approval granted")
	} else {
		log.Warn().
			Str("action", req.ActionName).
			Str("reason", d.Reason).
			Msg("Approval denied")
	}
	return d
}

var _ Gate = (*Manager)(nil)

// MockHandler is a configurable handler for testing
type MockHandler struct {
	AutoApprove bool
	Response    Response
	Delay       time.Duration
	Error       error

	mu       sync.Mutex
	requests []Request
}

// RequestApproval implements Handler
func (m *MockHandler) RequestApproval(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	if m.Error != nil {
		return Response{}, m.Error
	}

	if m.AutoApprove {
		return Response{Approved: true, Reason: "auto-approved"}, nil
	}

	return m.Response, nil
}

// Requests returns the requests seen so far.
func (m *MockHandler) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

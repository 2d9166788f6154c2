package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Action is a human's answer to a pending request.
type Action string

const (
	ActionAllowOnce   Action = "allow-once"
	ActionAllowAlways Action = "allow-always"
	ActionDeny        Action = "deny"
)

// ParseAction parses a user-provided action string.
func ParseAction(value string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(value)))
	switch a {
	case ActionAllowOnce, ActionAllowAlways, ActionDeny:
		return a, nil
	default:
		return "", fmt.Errorf("invalid approval action %q", value)
	}
}

// pendingIDAlphabet avoids look-alike characters so ids can be typed back.
const pendingIDAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"

// PendingApproval is a request waiting for a decision.
type PendingApproval struct {
	ID        string
	Request   Request
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Forwarder delivers pending approvals to wherever humans read them.
type Forwarder interface {
	ForwardApproval(ctx context.Context, pending PendingApproval) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, pending PendingApproval) error

// ForwardApproval implements Forwarder.
func (f ForwarderFunc) ForwardApproval(ctx context.Context, pending PendingApproval) error {
	return f(ctx, pending)
}

// PendingHandler parks requests until Resolve is called with their id.
type PendingHandler struct {
	forwarder Forwarder
	allowlist *Allowlist

	mu      sync.RWMutex
	pending map[string]chan Response
	entries map[string]PendingApproval
}

// NewPendingHandler creates a handler resolved out of band. forwarder may be nil.
func NewPendingHandler(forwarder Forwarder, allowlist *Allowlist) *PendingHandler {
	return &PendingHandler{
		forwarder: forwarder,
		allowlist: allowlist,
		pending:   make(map[string]chan Response),
		entries:   make(map[string]PendingApproval),
	}
}

// RequestApproval implements Handler. It blocks until Resolve or ctx is done.
func (h *PendingHandler) RequestApproval(ctx context.Context, req Request) (Response, error) {
	id, err := gonanoid.Generate(pendingIDAlphabet, 6)
	if err != nil {
		return Response{}, fmt.Errorf("failed to generate approval id: %w", err)
	}

	responseCh := make(chan Response, 1)
	pending := PendingApproval{
		ID:        id,
		Request:   req,
		CreatedAt: time.Now(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		pending.ExpiresAt = deadline
	}

	h.mu.Lock()
	h.pending[id] = responseCh
	h.entries[id] = pending
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		delete(h.entries, id)
		h.mu.Unlock()
	}()

	if h.forwarder != nil {
		if err := h.forwarder.ForwardApproval(ctx, pending); err != nil {
			return Response{}, err
		}
	}

	select {
	case response := <-responseCh:
		return response, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Resolve answers a pending approval.
func (h *PendingHandler) Resolve(id string, a Action, actor string) error {
	h.mu.RLock()
	responseCh, exists := h.pending[id]
	entry := h.entries[id]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("approval %s not found", id)
	}

	response, err := h.responseFor(a, actor, entry.Request)
	if err != nil {
		return err
	}

	select {
	case responseCh <- response:
		return nil
	default:
		return fmt.Errorf("approval %s already resolved", id)
	}
}

// List returns pending approvals, oldest first.
func (h *PendingHandler) List() []PendingApproval {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]PendingApproval, 0, len(h.entries))
	for _, p := range h.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (h *PendingHandler) responseFor(a Action, actor string, req Request) (Response, error) {
	switch a {
	case ActionAllowOnce:
		return Response{Approved: true, Reason: fmt.Sprintf("approved once by %s", actor)}, nil
	case ActionAllowAlways:
		if err := allowAlways(h.allowlist, req.ActionName, actor); err != nil {
			return Response{}, err
		}
		return Response{Approved: true, Reason: fmt.Sprintf("approved always by %s", actor)}, nil
	case ActionDeny:
		return Response{Approved: false, Reason: fmt.Sprintf("denied by %s", actor)}, nil
	default:
		return Response{}, fmt.Errorf("unsupported approval action %q", a)
	}
}

func allowAlways(allowlist *Allowlist, actionName, actor string) error {
	if allowlist == nil {
		return nil
	}
	entry := AllowlistEntry{
		Action:  actionName,
		Reason:  fmt.Sprintf("allow-always by %s", actor),
		AddedAt: time.Now().Format(time.RFC3339),
	}
	if err := allowlist.Add(entry); err != nil {
		return fmt.Errorf("failed to add allowlist entry: %w", err)
	}
	if err := allowlist.Save(); err != nil {
		return fmt.Errorf("failed to persist allowlist entry: %w", err)
	}
	return nil
}

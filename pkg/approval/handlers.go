package approval

import (
	"context"
)

// AutoApproveHandler approves every request. Meant for non-interactive runs.
type AutoApproveHandler struct{}

// NewAutoApproveHandler creates a handler that approves everything.
func NewAutoApproveHandler() *AutoApproveHandler {
	return &AutoApproveHandler{}
}

// RequestApproval implements Handler.
func (h *AutoApproveHandler) RequestApproval(ctx context.Context, req Request) (Response, error) {
	return Response{Approved: true, Reason: "auto-approved"}, nil
}

// DenyAllHandler denies every request.
type DenyAllHandler struct {
	Reason string
}

// RequestApproval implements Handler.
func (h DenyAllHandler) RequestApproval(ctx context.Context, req Request) (Response, error) {
	reason := h.Reason
	if reason == "" {
		reason = "approvals disabled"
	}
	return Response{Approved: false, Reason: reason}, nil
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// RequestApproval implements Handler.
func (f HandlerFunc) RequestApproval(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

var (
	_ Handler = (*AutoApproveHandler)(nil)
	_ Handler = DenyAllHandler{}
	_ Handler = HandlerFunc(nil)
)

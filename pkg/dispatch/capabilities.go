package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/harun/actuator/pkg/approval"
	"github.com/harun/actuator/pkg/capability"
)

// Capabilities is what a handler may do besides returning. One value is
// created per dispatch and stops accepting output once the dispatch ends.
type Capabilities struct {
	call     Call
	category capability.Category
	gate     approval.Gate

	mu           sync.Mutex
	output       []string
	reported     error
	rejected     bool
	rejectReason string
	closed       bool
}

func newCapabilities(call Call, category capability.Category, gate approval.Gate) *Capabilities {
	return &Capabilities{
		call:     call,
		category: category,
		gate:     gate,
	}
}

// RequestApproval asks for consent to perform a sensitive step. A denial
// turns the dispatch result into Rejected whatever the handler returns.
func (c *Capabilities) RequestApproval(ctx context.Context, detail string) approval.Outcome {
	if c.gate == nil {
		c.reject("no approval gate configured")
		return approval.Denied
	}

	d := c.gate.RequestApproval(ctx, approval.Request{
		TurnID:     c.call.TurnID,
		ActionName: c.call.Name,
		Category:   string(c.category),
		Params:     c.call.Params,
		Detail:     detail,
	})
	if !d.Approved() {
		c.reject(d.Reason)
	}
	return d.Outcome
}

// ReportProgress publishes a progress note. It never blocks on a human.
func (c *Capabilities) ReportProgress(ctx context.Context, message string) {
	if c.gate == nil {
		return
	}
	c.gate.RequestApproval(ctx, approval.Request{
		TurnID:     c.call.TurnID,
		ActionName: c.call.Name,
		Category:   string(c.category),
		Progress:   &approval.Progress{Message: message},
	})
}

// ReportError marks the dispatch failed even if the handler returns nil.
// The first reported error wins.
func (c *Capabilities) ReportError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reported != nil {
		return
	}
	c.reported = err
}

// EmitResult appends payload to the success output. Multiple emissions are
// joined with newlines.
func (c *Capabilities) EmitResult(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.output = append(c.output, payload)
}

func (c *Capabilities) reject(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.rejected {
		return
	}
	if reason == "" {
		reason = "denied by user"
	}
	c.rejected = true
	c.rejectReason = reason
}

// close freezes the capabilities and returns what the handler produced.
func (c *Capabilities) close() (output string, reported error, rejected bool, rejectReason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return strings.Join(c.output, "\n"), c.reported, c.rejected, c.rejectReason
}

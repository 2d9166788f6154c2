package approval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/actuator/pkg/events"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, e events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) published() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events...)
}

func TestManagerHandlerDecisions(t *testing.T) {
	tests := []struct {
		name       string
		handler    *MockHandler
		wantResult Outcome
		wantReason string
	}{
		{
			name:       "approved",
			handler:    &MockHandler{AutoApprove: true},
			wantResult: Approved,
			wantReason: "auto-approved",
		},
		{
			name:       "denied with reason",
			handler:    &MockHandler{Response: Response{Approved: false, Reason: "looks risky"}},
			wantResult: Denied,
			wantReason: "looks risky",
		},
		{
			name:       "denied without reason",
			handler:    &MockHandler{Response: Response{Approved: false}},
			wantResult: Denied,
			wantReason: "denied by user",
		},
		{
			name:       "handler error denies",
			handler:    &MockHandler{Error: errors.New("ui offline")},
			wantResult: Denied,
			wantReason: "approval request failed: ui offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.handler)
			d := m.RequestApproval(context.Background(), Request{TurnID: "t1", ActionName: "shell"})

			assert.Equal(t, tt.wantResult, d.Outcome)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.False(t, d.Auto)

			reqs := tt.handler.Requests()
			require.Len(t, reqs, 1)
			assert.NotEmpty(t, reqs[0].ID)
		})
	}
}

func TestManagerTimeout(t *testing.T) {
	handler := &MockHandler{AutoApprove: true, Delay: time.Second}
	m := NewManager(handler, WithTimeout(20*time.Millisecond))

	d := m.RequestApproval(context.Background(), Request{ActionName: "shell"})
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, "approval request timed out after 20ms", d.Reason)
}

func TestManagerRequestTimeoutOverridesDefault(t *testing.T) {
	handler := &MockHandler{AutoApprove: true, Delay: time.Second}
	m := NewManager(handler)

	d := m.RequestApproval(context.Background(), Request{ActionName: "shell", Timeout: 10 * time.Millisecond})
	assert.Equal(t, Denied, d.Outcome)
	assert.Contains(t, d.Reason, "timed out")
}

func TestManagerCancelled(t *testing.T) {
	handler := &MockHandler{AutoApprove: true, Delay: time.Second}
	m := NewManager(handler)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	d := m.RequestApproval(ctx, Request{ActionName: "shell"})
	assert.Equal(t, Denied, d.Outcome)
	assert.Equal(t, "approval cancelled", d.Reason)
}

func TestManagerNoHandler(t *testing.T) {
	m := NewManager(nil)
	d := m.RequestApproval(context.Background(), Request{ActionName: "shell"})
	assert.Equal(t, Denied, d.Outcome)

	m.SetHandler(NewAutoApproveHandler())
	d = m.RequestApproval(context.Background(), Request{ActionName: "shell"})
	assert.Equal(t, Approved, d.Outcome)
}

func TestManagerAutoPolicy(t *testing.T) {
	handler := &MockHandler{Response: Response{Approved: false}}
	m := NewManager(handler, WithAutoPolicy(AutoPolicy{
		Categories: []string{"read"},
		Actions:    []string{"list_*"},
	}))

	d := m.RequestApproval(context.Background(), Request{ActionName: "read_file", Category: "read"})
	assert.True(t, d.Approved())
	assert.True(t, d.Auto)

	d = m.RequestApproval(context.Background(), Request{ActionName: "list_files", Category: "general"})
	assert.True(t, d.Approved())
	assert.True(t, d.Auto)

	d = m.RequestApproval(context.Background(), Request{ActionName: "shell", Category: "shell"})
	assert.False(t, d.Approved())

	assert.Len(t, handler.Requests(), 1, "only the unmatched request reaches the handler")
}

func TestManagerAllowlist(t *testing.T) {
	allowlist, err := NewAllowlist(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)
	require.NoError(t, allowlist.Add(AllowlistEntry{Action: "write_file"}))

	handler := &MockHandler{}
	m := NewManager(handler, WithAllowlist(allowlist))

	d := m.RequestApproval(context.Background(), Request{ActionName: "write_file"})
	assert.True(t, d.Approved())
	assert.Equal(t, "approved by allowlist", d.Reason)
	assert.Empty(t, handler.Requests())
}

func TestManagerPublishesEvents(t *testing.T) {
	bus := &recordingBus{}
	m := NewManager(&MockHandler{AutoApprove: true}, WithBus(bus))

	d := m.RequestApproval(context.Background(), Request{
		TurnID:     "t1",
		ActionName: "shell",
		Category:   "shell",
		Detail:     "make test",
	})
	require.True(t, d.Approved())

	d = m.RequestApproval(context.Background(), Request{
		TurnID:     "t1",
		ActionName: "shell",
		Progress:   &Progress{Message: "compiling", Percent: 50},
	})
	assert.True(t, d.Approved())
	assert.True(t, d.Auto)

	published := bus.published()
	require.Len(t, published, 2)

	requested, ok := published[0].(events.ApprovalRequested)
	require.True(t, ok)
	assert.Equal(t, "shell", requested.ActionName)
	assert.Equal(t, "make test", requested.Detail)
	assert.NotEmpty(t, requested.RequestID)

	progress, ok := published[1].(events.ApprovalProgress)
	require.True(t, ok)
	assert.Equal(t, "compiling", progress.Message)
	assert.Equal(t, 50.0, progress.Percent)
}

func TestProgressNeverReachesHandler(t *testing.T) {
	handler := &MockHandler{Delay: time.Hour}
	m := NewManager(handler)

	done := make(chan Decision, 1)
	go func() {
		done <- m.RequestApproval(context.Background(), Request{ActionName: "x", Progress: &Progress{Message: "tick"}})
	}()

	select {
	case d := <-done:
		assert.True(t, d.Approved())
	case <-time.After(time.Second):
		t.Fatal("progress request suspended")
	}
	assert.Empty(t, handler.Requests())
}

func TestAutoPolicyMatches(t *testing.T) {
	p := AutoPolicy{Actions: []string{"*"}}
	_, ok := p.Matches(Request{ActionName: "anything"})
	assert.True(t, ok)

	p = AutoPolicy{}
	_, ok = p.Matches(Request{ActionName: "anything", Category: "read"})
	assert.False(t, ok)
}

func TestSimpleHandlers(t *testing.T) {
	resp, err := NewAutoApproveHandler().RequestApproval(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, resp.Approved)

	resp, err = DenyAllHandler{}.RequestApproval(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, resp.Approved)
	assert.Equal(t, "approvals disabled", resp.Reason)

	resp, err = HandlerFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{Approved: req.ActionName == "ok"}, nil
	}).RequestApproval(context.Background(), Request{ActionName: "ok"})
	require.NoError(t, err)
	assert.True(t, resp.Approved)
}

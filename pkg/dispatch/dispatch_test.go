package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/actuator/pkg/action"
	"github.com/harun/actuator/pkg/approval"
	"github.com/harun/actuator/pkg/capability"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// stubGate answers every approval request with a fixed outcome and records
// what it was asked.
type stubGate struct {
	outcome approval.Outcome
	reason  string

	mu       sync.Mutex
	requests []approval.Request
}

func (g *stubGate) RequestApproval(ctx context.Context, req approval.Request) approval.Decision {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if req.Progress != nil {
		return approval.Decision{Outcome: approval.Approved, Auto: true}
	}
	return approval.Decision{Outcome: g.outcome, Reason: g.reason}
}

func (g *stubGate) seen() []approval.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]approval.Request(nil), g.requests...)
}

func params(kv ...string) action.Params {
	p := action.NewParams()
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

func emit(payload string) Handler {
	return func(ctx context.Context, call Call, caps *Capabilities) error {
		caps.EmitResult(payload)
		return nil
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("read_file", emit("ok"),
		WithCategory(capability.CategoryRead),
		WithDescription("Read a file"),
		WithParams(ParamSpec{Name: "path", Required: true}),
	))

	t.Run("duplicate name rejected", func(t *testing.T) {
		err := r.Register("read_file", emit("again"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("nil handler rejected", func(t *testing.T) {
		assert.Error(t, r.Register("nothing", nil))
	})

	t.Run("invalid category rejected", func(t *testing.T) {
		assert.Error(t, r.Register("odd", emit(""), WithCategory("teleport")))
	})

	t.Run("duplicate param rejected", func(t *testing.T) {
		err := r.Register("dup", emit(""), WithParams(ParamSpec{Name: "a"}, ParamSpec{Name: "a"}))
		assert.Error(t, err)
	})

	t.Run("invalid pattern rejected", func(t *testing.T) {
		err := r.Register("bad_pattern", emit(""), WithParams(ParamSpec{Name: "a", Pattern: "(["}))
		assert.Error(t, err)
	})

	t.Run("lookups", func(t *testing.T) {
		assert.True(t, r.Has("read_file"))
		assert.False(t, r.Has("write_file"))
		assert.Equal(t, []string{"read_file"}, r.Names())

		cat, ok := r.Category("read_file")
		assert.True(t, ok)
		assert.Equal(t, capability.CategoryRead, cat)

		def, ok := r.Definition("read_file")
		require.True(t, ok)
		assert.Equal(t, "Read a file", def.Description)
		assert.Len(t, def.Params, 1)
	})

	t.Run("default category is general", func(t *testing.T) {
		require.NoError(t, r.Register("note", emit("")))
		cat, _ := r.Category("note")
		assert.Equal(t, capability.CategoryGeneral, cat)
	})

	t.Run("unregister", func(t *testing.T) {
		r.Unregister("note")
		assert.False(t, r.Has("note"))
		_, ok := r.Category("note")
		assert.False(t, ok)
	})
}

func TestCheckParams(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("write_file", emit("ok"),
		WithParams(
			ParamSpec{Name: "path", Required: true, MaxLength: 16},
			ParamSpec{Name: "mode", Enum: []string{"overwrite", "append"}},
			ParamSpec{Name: "owner", Pattern: "^[a-z]+$"},
		),
		WithStrictParams(),
	))
	require.NoError(t, r.Register("loose", emit("ok"), WithParams(ParamSpec{Name: "q"})))

	tests := []struct {
		name    string
		action  string
		params  action.Params
		wantErr string
	}{
		{name: "valid", action: "write_file", params: params("path", "a.txt", "mode", "append")},
		{name: "missing required", action: "write_file", params: params("mode", "append"), wantErr: "missing required parameter 'path'"},
		{name: "enum", action: "write_file", params: params("path", "a", "mode", "truncate"), wantErr: "mode"},
		{name: "pattern", action: "write_file", params: params("path", "a", "owner", "Root1"), wantErr: "owner"},
		{name: "max length", action: "write_file", params: params("path", strings.Repeat("x", 17)), wantErr: "path"},
		{name: "strict extra", action: "write_file", params: params("path", "a", "force", "yes"), wantErr: "unexpected parameter 'force'"},
		{name: "loose extra", action: "loose", params: params("anything", "goes")},
		{name: "unknown action", action: "nope", params: params(), wantErr: "unknown action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.CheckParams(tt.action, tt.params)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.ErrorIs(t, r.CheckParams("nope", params()), action.ErrUnknownAction)
}

func TestDispatchResults(t *testing.T) {
	gate := &stubGate{outcome: approval.Approved}

	tests := []struct {
		name    string
		handler Handler
		want    action.Result
	}{
		{
			name:    "success with payload",
			handler: emit("file contents"),
			want:    action.Success{Payload: "file contents"},
		},
		{
			name: "multiple emissions joined",
			handler: func(ctx context.Context, call Call, caps *Capabilities) error {
				caps.EmitResult("one")
				caps.EmitResult("two")
				return nil
			},
			want: action.Success{Payload: "one\ntwo"},
		},
		{
			name: "handler error",
			handler: func(ctx context.Context, call Call, caps *Capabilities) error {
				return fmt.Errorf("disk full")
			},
			want: action.ExecutionError{Message: "disk full"},
		},
		{
			name: "reported error without returned error",
			handler: func(ctx context.Context, call Call, caps *Capabilities) error {
				caps.EmitResult("partial")
				caps.ReportError(errors.New("checksum mismatch"))
				caps.ReportError(errors.New("second"))
				return nil
			},
			want: action.ExecutionError{Message: "checksum mismatch"},
		},
		{
			name: "panic recovered",
			handler: func(ctx context.Context, call Call, caps *Capabilities) error {
				panic("boom")
			},
			want: action.ExecutionError{Message: "panic: boom"},
		},
		{
			name: "rejected sentinel",
			handler: func(ctx context.Context, call Call, caps *Capabilities) error {
				return fmt.Errorf("overwrite refused: %w", action.ErrRejected)
			},
			want: action.Rejected{Reason: "overwrite refused: rejected by user"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			require.NoError(t, r.Register("act", tt.handler))

			got := r.Dispatch(context.Background(), Call{TurnID: "t1", Name: "act"}, gate)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	r := NewRegistry()
	got := r.Dispatch(context.Background(), Call{TurnID: "t1", Name: "launch_rockets"}, nil)
	assert.Equal(t, action.ValidationError{Reason: "unknown action"}, got)
}

func TestDispatchTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("slow", func(ctx context.Context, call Call, caps *Capabilities) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(20*time.Millisecond)))

	got := r.Dispatch(context.Background(), Call{Name: "slow"}, nil)
	require.IsType(t, action.ExecutionError{}, got)
	assert.Equal(t, "action timed out after 20ms", got.Text())
}

func TestDispatchCancelled(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	require.NoError(t, r.Register("wait", func(ctx context.Context, call Call, caps *Capabilities) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	got := r.Dispatch(ctx, Call{Name: "wait"}, nil)
	assert.Equal(t, action.ExecutionError{Message: "cancelled"}, got)
}

func TestDispatchApprovalInsideHandler(t *testing.T) {
	t.Run("denied approval yields rejected", func(t *testing.T) {
		gate := &stubGate{outcome: approval.Denied, reason: "not today"}
		r := NewRegistry()
		require.NoError(t, r.Register("shell", func(ctx context.Context, call Call, caps *Capabilities) error {
			if caps.RequestApproval(ctx, "run rm -rf build") != approval.Approved {
				return nil
			}
			caps.EmitResult("ran")
			return nil
		}, WithCategory(capability.CategoryShell)))

		got := r.Dispatch(context.Background(), Call{TurnID: "t1", Name: "shell", Params: params("cmd", "rm")}, gate)
		assert.Equal(t, action.Rejected{Reason: "not today"}, got)

		seen := gate.seen()
		require.Len(t, seen, 1)
		assert.Equal(t, "shell", seen[0].ActionName)
		assert.Equal(t, "shell", seen[0].Category)
		assert.Equal(t, "run rm -rf build", seen[0].Detail)
		assert.Equal(t, "t1", seen[0].TurnID)
	})

	t.Run("approved approval continues", func(t *testing.T) {
		gate := &stubGate{outcome: approval.Approved}
		r := NewRegistry()
		require.NoError(t, r.Register("shell", func(ctx context.Context, call Call, caps *Capabilities) error {
			if caps.RequestApproval(ctx, "run make") != approval.Approved {
				return nil
			}
			caps.ReportProgress(ctx, "halfway")
			caps.EmitResult("done")
			return nil
		}))

		got := r.Dispatch(context.Background(), Call{Name: "shell"}, gate)
		assert.Equal(t, action.Success{Payload: "done"}, got)

		seen := gate.seen()
		require.Len(t, seen, 2)
		require.NotNil(t, seen[1].Progress)
		assert.Equal(t, "halfway", seen[1].Progress.Message)
	})

	t.Run("nil gate denies", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register("shell", func(ctx context.Context, call Call, caps *Capabilities) error {
			caps.ReportProgress(ctx, "ignored")
			caps.RequestApproval(ctx, "anything")
			return nil
		}))

		got := r.Dispatch(context.Background(), Call{Name: "shell"}, nil)
		assert.Equal(t, action.Rejected{Reason: "no approval gate configured"}, got)
	})
}

func TestDispatchTruncatesOutput(t *testing.T) {
	r := NewRegistry(WithMaxOutputBytes(8))
	require.NoError(t, r.Register("big", emit("0123456789abcdef")))

	got := r.Dispatch(context.Background(), Call{Name: "big"}, nil)
	success, ok := got.(action.Success)
	require.True(t, ok)
	assert.True(t, success.Truncated)
	assert.Equal(t, "01234567"+truncationMarker, success.Payload)
}

func TestTruncateRuneBoundary(t *testing.T) {
	out, truncated := truncate("héllo", 2)
	assert.True(t, truncated)
	assert.Equal(t, "h"+truncationMarker, out)

	out, truncated = truncate("short", 10)
	assert.False(t, truncated)
	assert.Equal(t, "short", out)
}

func TestEmitAfterDispatchIgnored(t *testing.T) {
	var kept *Capabilities
	r := NewRegistry()
	require.NoError(t, r.Register("leak", func(ctx context.Context, call Call, caps *Capabilities) error {
		kept = caps
		caps.EmitResult("in time")
		return nil
	}))

	got := r.Dispatch(context.Background(), Call{Name: "leak"}, nil)
	assert.Equal(t, action.Success{Payload: "in time"}, got)

	kept.EmitResult("late")
	kept.ReportError(errors.New("late"))
	output, reported, _, _ := kept.close()
	assert.Equal(t, "in time", output)
	assert.NoError(t, reported)
}

// Package hooks runs shell scripts when turn events are published, so that
// external tooling can react to approvals, action results and finished turns.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/actuator/pkg/events"
)

const envPrefix = "ACTUATOR_HOOK_"

// Hook runs Script when an event of type Event is published.
type Hook struct {
	ID    string
	Event events.Type
	// Action limits the hook to events about actions matching this glob.
	Action string
	// State limits action_state hooks to one state, e.g. "completed".
	State   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for turn events.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu           sync.RWMutex
	hooksByEvent map[events.Type][]Hook
}

// ValidEvent reports whether hooks can be attached to event.
func ValidEvent(event string) bool {
	switch events.Type(event) {
	case events.TypeBlockUpdated, events.TypeActionState, events.TypeApprovalRequested,
		events.TypeApprovalProgress, events.TypeTurnReady:
		return true
	}
	return false
}

// NewManager creates a hook manager.
func NewManager(cfg Config) (*Manager, error) {
	manager := &Manager{
		enabled:      cfg.Enabled,
		logger:       cfg.Logger.With().Str("component", "hooks").Logger(),
		hooksByEvent: make(map[events.Type][]Hook),
	}

	if !cfg.Enabled {
		return manager, nil
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		event := events.Type(strings.TrimSpace(string(hook.Event)))
		if !ValidEvent(string(event)) {
			return nil, fmt.Errorf("unknown hook event %q", hook.Event)
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		if hook.Action != "" {
			if _, err := path.Match(hook.Action, ""); err != nil {
				return nil, fmt.Errorf("invalid action pattern %q for event %q: %w", hook.Action, event, err)
			}
		}
		hook.Event = event
		manager.hooksByEvent[event] = append(manager.hooksByEvent[event], hook)
	}

	return manager, nil
}

// Active reports whether any hook may run.
func (m *Manager) Active() bool {
	if m == nil || !m.enabled {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooksByEvent) > 0
}

// Trigger executes the hooks matching e. Every hook runs even if an earlier
// one fails; the failures are joined.
func (m *Manager) Trigger(ctx context.Context, e events.Event) error {
	if m == nil || !m.enabled || e == nil {
		return nil
	}

	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooksByEvent[e.EventType()]...)
	m.mu.RUnlock()
	if len(hooks) == 0 {
		return nil
	}

	action, state := subject(e)
	var (
		data map[string]string
		errs []error
	)
	for _, hook := range hooks {
		if !matches(hook, action, state) {
			continue
		}
		if data == nil {
			var err error
			if data, err = flatten(e); err != nil {
				return fmt.Errorf("failed to encode %s event: %w", e.EventType(), err)
			}
		}
		if err := m.executeHook(ctx, hook, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Handle triggers the hooks for e and logs failures.
func (m *Manager) Handle(ctx context.Context, e events.Event) {
	if err := m.Trigger(ctx, e); err != nil {
		m.logger.Warn().Err(err).Str("event", string(e.EventType())).Msg("Hook failed")
	}
}

func matches(hook Hook, action, state string) bool {
	if hook.Action != "" {
		if action == "" {
			return false
		}
		if ok, _ := path.Match(hook.Action, action); !ok {
			return false
		}
	}
	if hook.State != "" && hook.State != state {
		return false
	}
	return true
}

func subject(e events.Event) (action, state string) {
	switch ev := e.(type) {
	case events.BlockUpdated:
		return ev.ActionName, ""
	case events.ActionStateChanged:
		return ev.ActionName, ev.State
	case events.ApprovalRequested:
		return ev.ActionName, ""
	case events.ApprovalProgress:
		return ev.ActionName, ""
	}
	return "", ""
}

func (m *Manager) executeHook(ctx context.Context, hook Hook, data map[string]string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = string(hook.Event)
	}

	runCtx := ctx
	cancel := func() {}
	if hook.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, hook.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = buildHookEnvironment(hook.Event, data)

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	if outputText != "" {
		m.logger.Debug().
			Str("event", string(hook.Event)).
			Str("hook_id", hookID).
			Str("output", outputText).
			Msg("Hook executed")
	}

	return nil
}

// flatten turns the JSON form of e into environment values. Nested objects
// such as params become PARAMS_<KEY>.
func flatten(e events.Event) (map[string]string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(fields))
	for key, value := range fields {
		if nested, ok := value.(map[string]any); ok {
			for k, v := range nested {
				out[key+"_"+k] = fmt.Sprintf("%v", v)
			}
			continue
		}
		out[key] = fmt.Sprintf("%v", value)
	}
	return out, nil
}

func buildHookEnvironment(event events.Type, data map[string]string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, envPrefix+"EVENT="+string(event))

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, envPrefix+"DATA_"+normalizeEnvKey(key)+"="+data[key])
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	builder := strings.Builder{}
	builder.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}

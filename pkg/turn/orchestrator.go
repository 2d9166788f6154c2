package turn

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/actuator/internal/observability"
	"github.com/harun/actuator/internal/tracing"
	"github.com/harun/actuator/pkg/approval"
	"github.com/harun/actuator/pkg/blockparser"
	"github.com/harun/actuator/pkg/capability"
	"github.com/harun/actuator/pkg/dispatch"
	"github.com/harun/actuator/pkg/events"
	"github.com/harun/actuator/pkg/resultsink"
)

// Config holds orchestrator dependencies
type Config struct {
	Registry  *dispatch.Registry
	Validator *capability.Validator
	Profiles  capability.ProfileSource
	Gate      approval.Gate
	Parser    blockparser.Options
	Bus       events.Bus
	Renderer  resultsink.Renderer
	Logger    zerolog.Logger
}

// Orchestrator starts runs and keeps at most one active run per conversation.
type Orchestrator struct {
	registry  *dispatch.Registry
	validator *capability.Validator
	profiles  capability.ProfileSource
	gate      approval.Gate
	parser    blockparser.Options
	bus       events.Bus
	renderer  resultsink.Renderer
	logger    zerolog.Logger

	activeRuns map[string]*Run
	runsMu     sync.RWMutex
}

// NewOrchestrator creates an orchestrator. Registry and Gate are required.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("action registry is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("approval gate is required")
	}

	validator := cfg.Validator
	if validator == nil {
		validator = capability.NewValidator(cfg.Registry)
	}
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = capability.StaticProfiles{}
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NopBus{}
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = resultsink.DefaultRenderer()
	}

	return &Orchestrator{
		registry:   cfg.Registry,
		validator:  validator,
		profiles:   profiles,
		gate:       cfg.Gate,
		parser:     cfg.Parser,
		bus:        bus,
		renderer:   renderer,
		logger:     cfg.Logger,
		activeRuns: make(map[string]*Run),
	}, nil
}

// StartOptions identify the turn being started.
type StartOptions struct {
	ConversationID string
	// TurnID is generated when empty.
	TurnID string
}

// Start begins a new turn and its processing loop. The run ends when it is
// ready, when ctx is cancelled, or on Cancel/Abort.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	turnID := opts.TurnID
	if turnID == "" {
		turnID = uuid.NewString()
	}
	key := opts.ConversationID
	if key == "" {
		key = turnID
	}

	o.runsMu.Lock()
	defer o.runsMu.Unlock()

	if _, exists := o.activeRuns[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTurnActive, key)
	}

	ctx = tracing.NewTurnContext(ctx, turnID, opts.ConversationID)
	parserOpts := o.parser
	if len(parserOpts.KnownActions) == 0 {
		parserOpts.KnownActions = o.registry.Names()
	}

	run := newRun(ctx, o, key, &Turn{
		ID:             turnID,
		ConversationID: opts.ConversationID,
		Sink:           resultsink.New(o.renderer),
	}, blockparser.New(parserOpts))
	o.activeRuns[key] = run

	observability.TurnStarted()
	run.logger.Info().Msg("Turn started")

	go run.loop()
	return run, nil
}

// Abort cancels the active run of a conversation. It reports whether a run was found.
func (o *Orchestrator) Abort(conversationID string) bool {
	o.runsMu.RLock()
	run, exists := o.activeRuns[conversationID]
	o.runsMu.RUnlock()

	if !exists {
		o.logger.Debug().Str("conversation_id", conversationID).Msg("No active turn to abort")
		return false
	}

	o.logger.Info().Str("conversation_id", conversationID).Msg("Aborting turn")
	run.Cancel()
	return true
}

// Active returns the running turn of a conversation, if any.
func (o *Orchestrator) Active(conversationID string) (*Run, bool) {
	o.runsMu.RLock()
	defer o.runsMu.RUnlock()
	run, ok := o.activeRuns[conversationID]
	return run, ok
}

func (o *Orchestrator) release(key string, run *Run) {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	if o.activeRuns[key] == run {
		delete(o.activeRuns, key)
	}
}

package turn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/actuator/internal/observability"
	"github.com/harun/actuator/internal/tracing"
	"github.com/harun/actuator/pkg/action"
	"github.com/harun/actuator/pkg/blockparser"
	"github.com/harun/actuator/pkg/events"
)

// queued is one unit of parser output handed from Feed to the loop.
type queued struct {
	event       blockparser.Event
	endOfStream bool
	fatal       error
}

// Run is one turn in flight. Feed and SignalEndOfStream are called by the
// stream producer; everything else may be called from any goroutine.
type Run struct {
	o      *Orchestrator
	key    string
	ctx    context.Context
	cancel context.CancelFunc
	// eventCtx outlives cancellation so the final events still go out.
	eventCtx context.Context
	span     trace.Span
	logger   zerolog.Logger
	start    time.Time

	feedMu sync.Mutex
	parser *blockparser.Parser
	closed bool

	queueMu sync.Mutex
	queue   []queued
	wake    chan struct{}

	turn  *Turn
	state atomic.Pointer[State]
	done  chan struct{}

	drainMu sync.Mutex
	drained []action.ResultEntry
	taken   bool
}

func newRun(ctx context.Context, o *Orchestrator, key string, t *Turn, parser *blockparser.Parser) *Run {
	ctx, span := tracing.StartSpan(ctx, "turn", "turn.run",
		attribute.Int("actuator.known_actions", len(o.registry.Names())),
	)
	ctx, cancel := context.WithCancel(ctx)

	r := &Run{
		o:        o,
		key:      key,
		ctx:      ctx,
		cancel:   cancel,
		eventCtx: tracing.CloneContext(ctx),
		span:     span,
		logger:   tracing.LoggerFromContext(ctx, o.logger),
		start:    time.Now(),
		parser:   parser,
		wake:     make(chan struct{}, 1),
		turn:     t,
		done:     make(chan struct{}),
	}
	r.publishState()
	return r
}

// ID returns the turn ID.
func (r *Run) ID() string {
	return r.turn.ID
}

// ConversationID returns the conversation the turn belongs to.
func (r *Run) ConversationID() string {
	return r.turn.ConversationID
}

// Feed parses the next fragment of the response. It never waits for the
// loop, so block updates keep flowing while an action awaits approval.
// A fatal parser error is returned and ends the turn.
func (r *Run) Feed(fragment string) error {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	if r.closed || r.isDone() {
		return ErrRunClosed
	}

	observability.RecordStreamBytes(len(fragment))
	evs, err := r.parser.Feed(fragment)
	r.publishBlocks(evs)

	items := make([]queued, 0, len(evs)+1)
	for _, ev := range evs {
		items = append(items, queued{event: ev})
	}
	if err != nil {
		r.closed = true
		items = append(items, queued{fatal: err})
	}
	r.enqueue(items...)
	return err
}

// SignalEndOfStream flushes the parser and lets the turn become ready once
// every block is handled. Calling it again is a no-op.
func (r *Run) SignalEndOfStream() error {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	evs, err := r.parser.Finish()
	r.publishBlocks(evs)

	items := make([]queued, 0, len(evs)+1)
	for _, ev := range evs {
		items = append(items, queued{event: ev})
	}
	if err != nil {
		items = append(items, queued{fatal: err})
	} else {
		items = append(items, queued{endOfStream: true})
	}
	r.enqueue(items...)
	return err
}

// Cancel stops the turn. Pending approvals resolve as denied, a running
// action is told to stop, and unprocessed actions are acknowledged as rejected.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once the turn is ready.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// State returns the latest snapshot.
func (r *Run) State() State {
	return *r.state.Load()
}

// Drain returns the turn's results in block order. It fails with
// ErrTurnNotReady until the turn is ready; later calls return the same entries.
func (r *Run) Drain() ([]action.ResultEntry, error) {
	if !r.isDone() {
		return nil, ErrTurnNotReady
	}

	r.drainMu.Lock()
	defer r.drainMu.Unlock()
	if !r.taken {
		r.drained = r.turn.Sink.Drain()
		r.taken = true
	}
	return append([]action.ResultEntry(nil), r.drained...), nil
}

// Wait blocks until the turn is ready or ctx is done, then drains it.
func (r *Run) Wait(ctx context.Context) ([]action.ResultEntry, error) {
	select {
	case <-r.done:
		return r.Drain()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Run) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Run) enqueue(items ...queued) {
	if len(items) == 0 {
		return
	}
	r.queueMu.Lock()
	r.queue = append(r.queue, items...)
	r.queueMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// take returns everything queued so far without waiting.
func (r *Run) take() []queued {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	items := r.queue
	r.queue = nil
	return items
}

// wait blocks until items are queued or the run is cancelled.
func (r *Run) wait() ([]queued, bool) {
	for {
		if items := r.take(); len(items) > 0 {
			return items, true
		}
		select {
		case <-r.wake:
		case <-r.ctx.Done():
			return nil, false
		}
	}
}

func (r *Run) loop() {
	defer r.finish()

	for {
		items, ok := r.wait()
		if !ok {
			r.cancelRemaining()
			return
		}
		r.apply(items)
		r.advance()

		switch {
		case r.ctx.Err() != nil:
			r.cancelRemaining()
			return
		case r.turn.fatal != nil:
			r.failParser()
			return
		case r.turn.finished():
			return
		}
	}
}

func (r *Run) apply(items []queued) {
	t := r.turn
	for _, it := range items {
		switch {
		case it.fatal != nil:
			t.fatal = it.fatal
		case it.endOfStream:
			t.endOfStream = true
		default:
			t.apply(it.event)
			if it.event.Final() {
				observability.RecordParsedBlock(blockKind(it.event.Block))
			}
		}
	}
	r.publishState()
}

// advance handles complete blocks at the cursor, one at a time, in order.
func (r *Run) advance() {
	t := r.turn
	for r.ctx.Err() == nil {
		b, ok := t.next()
		if !ok {
			return
		}
		if ab, isAction := b.(blockparser.ActionBlock); isAction {
			r.processAction(t.Cursor, ab)
		}
		t.Cursor++
		r.publishState()
	}
}

// cancelRemaining acknowledges every action block that was not handled.
func (r *Run) cancelRemaining() {
	t := r.turn
	r.apply(r.take())
	t.cancelled = true

	for i := t.Cursor; i < len(t.Blocks); i++ {
		ab, ok := t.Blocks[i].(blockparser.ActionBlock)
		if !ok {
			continue
		}
		r.conclude(i, ab, action.Rejected{Reason: "turn cancelled"})
	}
	t.Cursor = len(t.Blocks)
	r.logger.Info().Int("results", t.Sink.Len()).Msg("Turn cancelled")
}

// failParser records the parser error as the turn's final entry.
func (r *Run) failParser() {
	t := r.turn
	observability.RecordParserError()
	r.logger.Error().Err(t.fatal).Msg("Block parser failed, ending turn")

	t.Sink.Add(len(t.Blocks), "parser", action.NewParams(), action.ExecutionError{Message: t.fatal.Error()})
	t.Cursor = len(t.Blocks)
}

func (r *Run) finish() {
	t := r.turn
	t.Ready = true

	status := "ready"
	switch {
	case t.fatal != nil:
		status = "parser_error"
	case t.cancelled:
		status = "cancelled"
	}

	duration := time.Since(r.start)
	observability.RecordTurn(status, duration, t.MistakeCount)
	observability.AuditTurnReady(r.eventCtx, t.ID, t.ConversationID, status, map[string]interface{}{
		"results":     t.Sink.Len(),
		"mistakes":    t.MistakeCount,
		"duration_ms": duration.Milliseconds(),
	})

	r.span.SetAttributes(
		attribute.String("actuator.turn_status", status),
		attribute.Int("actuator.results", t.Sink.Len()),
	)
	r.span.End()

	r.publishState()
	events.PublishBlind(r.eventCtx, r.o.bus, events.TurnReady{
		TurnID:         t.ID,
		ConversationID: t.ConversationID,
		Results:        t.Sink.Len(),
		Mistakes:       t.MistakeCount,
		Cancelled:      t.cancelled,
	})

	r.logger.Info().
		Str("status", status).
		Int("results", t.Sink.Len()).
		Int("mistakes", t.MistakeCount).
		Dur("duration", duration).
		Msg("Turn ready")

	r.o.release(r.key, r)
	r.cancel()
	close(r.done)
}

func (r *Run) publishState() {
	s := r.turn.snapshot()
	r.state.Store(&s)
}

func (r *Run) publishBlocks(evs []blockparser.Event) {
	for _, ev := range evs {
		e := events.BlockUpdated{
			TurnID:  r.turn.ID,
			Index:   ev.Index,
			Kind:    blockKind(ev.Block),
			Partial: ev.Block.IsPartial(),
			IsNew:   ev.IsNew,
		}
		switch b := ev.Block.(type) {
		case blockparser.TextBlock:
			e.Text = b.Text
		case blockparser.ActionBlock:
			e.ActionName = b.Name
			e.Params = b.Params.Clone().Values
		}
		events.PublishBlind(r.eventCtx, r.o.bus, e)
	}
}

func blockKind(b blockparser.Block) string {
	if _, ok := b.(blockparser.ActionBlock); ok {
		return "action"
	}
	return "text"
}

// Package resultsink collects the per-block outcomes of a turn, in block
// order, for the caller to feed back to the model.
package resultsink

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harun/actuator/pkg/action"
)

// Sink is an append-only list of result entries. No dedup, no coalescing.
type Sink struct {
	renderer Renderer

	mu      sync.Mutex
	entries []action.ResultEntry
}

// New creates a sink. A nil renderer uses DefaultRenderer.
func New(renderer Renderer) *Sink {
	if renderer == nil {
		renderer = DefaultRenderer()
	}
	return &Sink{renderer: renderer}
}

// Push appends entry as is.
func (s *Sink) Push(entry action.ResultEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Add renders result and appends the entry. A rendering failure falls
// back to the plain entry text.
func (s *Sink) Add(blockIndex int, name string, params action.Params, result action.Result) action.ResultEntry {
	entry := action.ResultEntry{
		BlockIndex: blockIndex,
		ActionName: name,
		Params:     params.Clone(),
		Result:     result,
	}

	text, err := s.renderer.Render(name, params, result)
	if err != nil {
		log.Warn().
			Err(err).
			Str("action", name).
			Int("block_index", blockIndex).
			Msg("Result rendering failed, using plain text")
		text = fmt.Sprintf("[%s] %s: %s", name, result.Kind(), result.Text())
	}
	entry.RenderedText = text

	s.Push(entry)
	return entry
}

// Drain returns every entry in insertion order and empties the sink.
func (s *Sink) Drain() []action.ResultEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out
}

// Snapshot returns a copy of the entries without draining.
func (s *Sink) Snapshot() []action.ResultEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]action.ResultEntry(nil), s.entries...)
}

func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

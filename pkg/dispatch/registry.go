package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/actuator/pkg/action"
	"github.com/harun/actuator/pkg/capability"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024
)

// Call identifies one dispatched action block.
type Call struct {
	TurnID     string
	BlockIndex int
	Name       string
	Params     action.Params
}

// Handler executes an action. A returned error becomes an ExecutionError
// result; output is delivered through caps.EmitResult.
type Handler func(ctx context.Context, call Call, caps *Capabilities) error

// ParamSpec describes one string parameter an action accepts.
type ParamSpec struct {
	Name        string   `json:"name" yaml:"name" mapstructure:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty" mapstructure:"enum"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty" mapstructure:"pattern"`
	MaxLength   int      `json:"max_length,omitempty" yaml:"max_length,omitempty" mapstructure:"max_length"`
}

// Definition is a registered action.
type Definition struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    capability.Category `json:"category"`
	Params      []ParamSpec         `json:"params,omitempty"`
	// Strict rejects parameters that are not declared in Params.
	Strict  bool          `json:"strict,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`

	handler Handler
}

// Option configures a Definition at registration.
type Option func(*Definition)

func WithCategory(c capability.Category) Option {
	return func(d *Definition) { d.Category = c }
}

func WithDescription(desc string) Option {
	return func(d *Definition) { d.Description = desc }
}

func WithParams(specs ...ParamSpec) Option {
	return func(d *Definition) { d.Params = append(d.Params, specs...) }
}

func WithStrictParams() Option {
	return func(d *Definition) { d.Strict = true }
}

// WithTimeout overrides the registry's default handler timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Definition) { d.Timeout = timeout }
}

// Registry maps action names to handlers and dispatches calls.
type Registry struct {
	defs           map[string]*Definition
	schemas        map[string]*gojsonschema.Schema
	defaultTimeout time.Duration
	maxOutputBytes int
	mu             sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultTimeout sets the handler timeout used when a definition has none.
func WithDefaultTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.defaultTimeout = timeout
		}
	}
}

// WithMaxOutputBytes sets the size after which success payloads are truncated.
func WithMaxOutputBytes(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxOutputBytes = n
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs:           make(map[string]*Definition),
		schemas:        make(map[string]*gojsonschema.Schema),
		defaultTimeout: DefaultTimeout,
		maxOutputBytes: DefaultMaxOutputBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an action. Names must be unique.
func (r *Registry) Register(name string, handler Handler, opts ...Option) error {
	def := Definition{
		Name:     name,
		Category: capability.CategoryGeneral,
		handler:  handler,
	}
	for _, opt := range opts {
		opt(&def)
	}

	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid action definition: %w", err)
	}

	schema, err := buildSchema(def)
	if err != nil {
		return fmt.Errorf("failed to build parameter schema for '%s': %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("action '%s' is already registered", name)
	}
	r.defs[name] = &def
	r.schemas[name] = schema

	log.Debug().
		Str("action", name).
		Str("category", string(def.Category)).
		Int("params", len(def.Params)).
		Msg("Action registered")

	return nil
}

// Unregister removes an action. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.defs, name)
	delete(r.schemas, name)
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns a copy of the definition of name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return Definition{}, false
	}
	out := *def
	out.Params = append([]ParamSpec(nil), def.Params...)
	return out, true
}

// Category implements capability.CategoryLookup.
func (r *Registry) Category(name string) (capability.Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return "", false
	}
	return def.Category, true
}

var _ capability.CategoryLookup = (*Registry)(nil)

func (r *Registry) lookup(name string) (*Definition, *gojsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, nil, false
	}
	return def, r.schemas[name], true
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("action name cannot be empty")
	}
	if def.handler == nil {
		return fmt.Errorf("handler for '%s' cannot be nil", def.Name)
	}
	if !capability.IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category '%s' for '%s'", def.Category, def.Name)
	}

	seen := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty for '%s'", def.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter '%s' for '%s'", p.Name, def.Name)
		}
		seen[p.Name] = true
		if p.MaxLength < 0 {
			return fmt.Errorf("negative max_length for parameter '%s'", p.Name)
		}
	}
	return nil
}

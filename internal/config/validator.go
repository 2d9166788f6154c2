package config

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/harun/actuator/pkg/capability"
	"github.com/harun/actuator/pkg/hooks"
	"github.com/harun/actuator/pkg/resultsink"
)

var actionNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateApprovalMode validates the approval mode
func (v *Validator) ValidateApprovalMode(mode string) error {
	if mode == "" {
		return nil // Use default
	}

	validModes := []string{"prompt", "auto", "deny"}
	for _, valid := range validModes {
		if mode == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid approval mode: %s (must be one of: %s)", mode, strings.Join(validModes, ", "))
}

// ValidateActionName validates an action name as it must appear in a tag
func (v *Validator) ValidateActionName(name string) error {
	if name == "" {
		return fmt.Errorf("action name cannot be empty")
	}
	if !actionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid action name: %s", name)
	}
	return nil
}

// ValidateCategory validates an action category
func (v *Validator) ValidateCategory(category string) error {
	if category == "" {
		return nil // Defaults to general
	}
	if !capability.IsValidCategory(category) {
		return fmt.Errorf("invalid category: %s", category)
	}
	return nil
}

// ValidateAction validates one catalog entry
func (v *Validator) ValidateAction(a ActionConfig) []error {
	var errors []error

	if err := v.ValidateActionName(a.Name); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateCategory(a.Category); err != nil {
		errors = append(errors, fmt.Errorf("action %s: %w", a.Name, err))
	}
	if a.Timeout < 0 {
		errors = append(errors, fmt.Errorf("action %s: timeout must be >= 0", a.Name))
	}

	seen := make(map[string]bool, len(a.Params))
	for i, p := range a.Params {
		if p.Name == "" {
			errors = append(errors, fmt.Errorf("action %s: param %d: name is required", a.Name, i))
			continue
		}
		if p.Name == a.Name {
			errors = append(errors, fmt.Errorf("action %s: param %s shadows the action tag", a.Name, p.Name))
		}
		if seen[p.Name] {
			errors = append(errors, fmt.Errorf("action %s: duplicate param %s", a.Name, p.Name))
		}
		seen[p.Name] = true
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				errors = append(errors, fmt.Errorf("action %s: param %s: invalid pattern: %w", a.Name, p.Name, err))
			}
		}
		if p.MaxLength < 0 {
			errors = append(errors, fmt.Errorf("action %s: param %s: max_length must be >= 0", a.Name, p.Name))
		}
	}
	return errors
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	// Validate parser
	if cfg.Parser.EnvelopeTag != "" {
		if err := v.ValidateActionName(cfg.Parser.EnvelopeTag); err != nil {
			errors = append(errors, fmt.Errorf("parser envelope_tag: %w", err))
		}
	}
	if cfg.Parser.MaxCaptureBytes < 0 {
		errors = append(errors, fmt.Errorf("parser max_capture_bytes must be >= 0"))
	}
	if cfg.Parser.MaxTagBytes < 0 {
		errors = append(errors, fmt.Errorf("parser max_tag_bytes must be >= 0"))
	}

	// Validate approval
	if err := v.ValidateApprovalMode(cfg.Approval.Mode); err != nil {
		errors = append(errors, err)
	}
	if cfg.Approval.Timeout < 0 {
		errors = append(errors, fmt.Errorf("approval timeout must be >= 0"))
	}
	for _, c := range cfg.Approval.AutoCategories {
		if err := v.ValidateCategory(c); err != nil {
			errors = append(errors, fmt.Errorf("approval auto_categories: %w", err))
		}
	}
	for _, pattern := range cfg.Approval.AutoActions {
		if _, err := path.Match(pattern, ""); err != nil {
			errors = append(errors, fmt.Errorf("approval auto_actions: invalid pattern %q: %w", pattern, err))
		}
	}

	// Validate dispatch
	if cfg.Dispatch.Timeout < 0 {
		errors = append(errors, fmt.Errorf("dispatch timeout must be >= 0"))
	}
	if cfg.Dispatch.MaxOutputBytes < 0 {
		errors = append(errors, fmt.Errorf("dispatch max_output_bytes must be >= 0"))
	}

	// Validate templates
	if len(cfg.Render.Templates) > 0 {
		if _, err := resultsink.NewTemplateRenderer(cfg.Render.Templates); err != nil {
			errors = append(errors, fmt.Errorf("render templates: %w", err))
		}
	}

	// Validate metrics
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errors = append(errors, fmt.Errorf("metrics addr is required when metrics are enabled"))
	}

	// Validate hooks
	for i, h := range cfg.Hooks.Hooks {
		if !h.Enabled {
			continue
		}
		if !hooks.ValidEvent(h.Event) {
			errors = append(errors, fmt.Errorf("hook %d: unknown event %q", i, h.Event))
		}
		if strings.TrimSpace(h.Script) == "" {
			errors = append(errors, fmt.Errorf("hook %d: script is required", i))
		}
		if h.Action != "" {
			if _, err := path.Match(h.Action, ""); err != nil {
				errors = append(errors, fmt.Errorf("hook %d: invalid action pattern %q: %w", i, h.Action, err))
			}
		}
		if h.Timeout < 0 {
			errors = append(errors, fmt.Errorf("hook %d: timeout must be >= 0", i))
		}
	}

	// Validate action catalog
	names := make(map[string]bool, len(cfg.Actions))
	for _, a := range cfg.Actions {
		errors = append(errors, v.ValidateAction(a)...)
		if a.Name == "" {
			continue
		}
		if names[a.Name] {
			errors = append(errors, fmt.Errorf("duplicate action: %s", a.Name))
		}
		if a.Name == cfg.Parser.EnvelopeTag {
			errors = append(errors, fmt.Errorf("action %s collides with the envelope tag", a.Name))
		}
		names[a.Name] = true
	}

	return errors
}

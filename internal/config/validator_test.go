package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harun/actuator/pkg/dispatch"
)

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	t.Run("valid levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			assert.NoError(t, v.ValidateLogLevel(level), level)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		assert.Error(t, v.ValidateLogLevel("verbose"))
	})
}

func TestValidateApprovalMode(t *testing.T) {
	v := NewValidator()

	for _, mode := range []string{"", "prompt", "auto", "deny"} {
		assert.NoError(t, v.ValidateApprovalMode(mode), mode)
	}
	assert.Error(t, v.ValidateApprovalMode("sometimes"))
}

func TestValidateActionName(t *testing.T) {
	v := NewValidator()

	t.Run("valid names", func(t *testing.T) {
		for _, name := range []string{"read", "read_file", "fs.read", "web-fetch", "_x"} {
			assert.NoError(t, v.ValidateActionName(name), name)
		}
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", "1read", "read file", "a<b"} {
			assert.Error(t, v.ValidateActionName(name), name)
		}
	})
}

func TestValidateAction(t *testing.T) {
	v := NewValidator()

	t.Run("valid action", func(t *testing.T) {
		errs := v.ValidateAction(ActionConfig{
			Name:     "fetch",
			Category: "web",
			Params: []dispatch.ParamSpec{
				{Name: "url", Required: true, Pattern: "^https?://"},
			},
		})
		assert.Empty(t, errs)
	})

	t.Run("bad category", func(t *testing.T) {
		errs := v.ValidateAction(ActionConfig{Name: "fetch", Category: "teleport"})
		assert.Len(t, errs, 1)
	})

	t.Run("param problems", func(t *testing.T) {
		errs := v.ValidateAction(ActionConfig{
			Name: "fetch",
			Params: []dispatch.ParamSpec{
				{Name: ""},
				{Name: "fetch"},
				{Name: "url"},
				{Name: "url", Pattern: "("},
				{Name: "size", MaxLength: -1},
			},
		})
		// missing name, shadowing, duplicate, bad pattern, negative max length
		assert.Len(t, errs, 5)
	})

	t.Run("negative timeout", func(t *testing.T) {
		errs := v.ValidateAction(ActionConfig{Name: "fetch", Timeout: -1})
		assert.Len(t, errs, 1)
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are valid", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "loud"
		cfg.Parser.MaxCaptureBytes = -1
		cfg.Approval.Timeout = -5
		cfg.Approval.AutoCategories = []string{"nope"}
		cfg.Approval.AutoActions = []string{"["}
		cfg.Dispatch.Timeout = -1
		cfg.Render.Templates = map[string]string{"success": "{{ .Name "}
		cfg.Metrics = MetricsConfig{Enabled: true}

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 8)
	})

	t.Run("action named like envelope tag", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Actions = []ActionConfig{{Name: "act"}}

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 1)
	})
	t.Run("hooks", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Hooks = HooksConfig{
			Enabled: true,
			Hooks: []HookConfig{
				{Event: "turn_ready", Script: "true", Enabled: true},
				{Event: "startup", Script: "", Action: "[", Timeout: -1, Enabled: true},
				{Event: "startup", Enabled: false},
			},
		}

		errs := v.ValidateConfig(cfg)
		// unknown event, missing script, bad pattern, negative timeout
		assert.Len(t, errs, 4)
	})
}

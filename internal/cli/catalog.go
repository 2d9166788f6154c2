package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/harun/actuator/internal/config"
	"github.com/harun/actuator/pkg/capability"
	"github.com/harun/actuator/pkg/dispatch"
)

// buildRegistry registers a dry-run handler for every action of the catalog.
func buildRegistry(cfg *config.Config) (*dispatch.Registry, error) {
	registry := dispatch.NewRegistry(
		dispatch.WithDefaultTimeout(cfg.DispatchTimeout()),
		dispatch.WithMaxOutputBytes(cfg.Dispatch.MaxOutputBytes),
	)

	for _, a := range cfg.Actions {
		opts := []dispatch.Option{
			dispatch.WithDescription(a.Description),
			dispatch.WithParams(a.Params...),
		}
		if a.Category != "" {
			opts = append(opts, dispatch.WithCategory(capability.Category(a.Category)))
		}
		if a.Strict {
			opts = append(opts, dispatch.WithStrictParams())
		}
		if a.Timeout > 0 {
			opts = append(opts, dispatch.WithTimeout(time.Duration(a.Timeout)*time.Second))
		}
		if err := registry.Register(a.Name, dryRun, opts...); err != nil {
			return nil, fmt.Errorf("failed to register action %s: %w", a.Name, err)
		}
	}
	return registry, nil
}

// dryRun describes the call instead of performing it.
func dryRun(ctx context.Context, call dispatch.Call, caps *dispatch.Capabilities) error {
	caps.ReportProgress(ctx, "dry run")

	var b strings.Builder
	fmt.Fprintf(&b, "dry run: %s", call.Name)
	for _, name := range call.Params.Order {
		value, _ := call.Params.Get(name)
		fmt.Fprintf(&b, "\n  %s = %q", name, value)
	}
	caps.EmitResult(b.String())
	return nil
}

// openProfiles loads the profiles file. Without one, every action is
// enabled, which is only safe because replay handlers are dry runs.
func openProfiles(cfg *config.Config, override string) (capability.ProfileSource, *capability.FileStore, error) {
	if _, err := os.Stat(cfg.Profiles.Path); os.IsNotExist(err) {
		if override != "" {
			return nil, nil, fmt.Errorf("profile %s requested but no profiles file at %s", override, cfg.Profiles.Path)
		}
		return capability.StaticProfiles{Profile: &capability.PermissionProfile{
			Name:           "permissive",
			EnabledActions: []string{"*"},
		}}, nil, nil
	}

	store, err := capability.NewFileStore(cfg.Profiles.Path)
	if err != nil {
		return nil, nil, err
	}

	active := override
	if active == "" && store.ActiveProfile() == nil {
		if _, ok := store.Get(cfg.Profiles.Active); ok {
			active = cfg.Profiles.Active
		}
	}
	if active != "" {
		if err := store.SetActive(active); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store, nil
}

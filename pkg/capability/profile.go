package capability

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

// Category groups actions for policy purposes.
type Category string

const (
	CategoryRead    Category = "read"
	CategoryWrite   Category = "write"
	CategoryShell   Category = "shell"
	CategoryWeb     Category = "web"
	CategoryNetwork Category = "network"
	CategoryGeneral Category = "general"
)

// AllCategories returns all valid categories
func AllCategories() []Category {
	return []Category{
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryWeb,
		CategoryNetwork,
		CategoryGeneral,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := Category(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// PermissionProfile describes which actions the agent may request.
// Action entries accept glob patterns ("fs.*", "*").
type PermissionProfile struct {
	Name               string     `json:"name" yaml:"name"`
	Description        string     `json:"description,omitempty" yaml:"description,omitempty"`
	EnabledCategories  []Category `json:"enabled_categories,omitempty" yaml:"enabled_categories,omitempty"`
	DisabledCategories []Category `json:"disabled_categories,omitempty" yaml:"disabled_categories,omitempty"`
	EnabledActions     []string   `json:"enabled_actions,omitempty" yaml:"enabled_actions,omitempty"`
	DisabledActions    []string   `json:"disabled_actions,omitempty" yaml:"disabled_actions,omitempty"`
}

// Validate checks the profile for unknown categories and bad patterns.
func (p *PermissionProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	for _, c := range append(append([]Category{}, p.EnabledCategories...), p.DisabledCategories...) {
		if !IsValidCategory(string(c)) {
			return fmt.Errorf("profile %s: invalid category: %s", p.Name, c)
		}
	}
	for _, pattern := range append(append([]string{}, p.EnabledActions...), p.DisabledActions...) {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("profile %s: invalid action pattern %q: %w", p.Name, pattern, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *PermissionProfile) Clone() *PermissionProfile {
	if p == nil {
		return nil
	}
	return &PermissionProfile{
		Name:               p.Name,
		Description:        p.Description,
		EnabledCategories:  append([]Category(nil), p.EnabledCategories...),
		DisabledCategories: append([]Category(nil), p.DisabledCategories...),
		EnabledActions:     append([]string(nil), p.EnabledActions...),
		DisabledActions:    append([]string(nil), p.DisabledActions...),
	}
}

// MergeProfiles combines profiles so that the result is no more permissive
// than any input: enabled sets are intersected, disabled sets are unioned.
func MergeProfiles(name string, profiles ...*PermissionProfile) *PermissionProfile {
	var nonNil []*PermissionProfile
	for _, p := range profiles {
		if p != nil {
			nonNil = append(nonNil, p)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}

	merged := nonNil[0].Clone()
	merged.Name = name
	merged.Description = ""

	for _, p := range nonNil[1:] {
		merged.EnabledCategories = intersect(merged.EnabledCategories, p.EnabledCategories)
		merged.EnabledActions = intersect(merged.EnabledActions, p.EnabledActions)
		merged.DisabledCategories = union(merged.DisabledCategories, p.DisabledCategories)
		merged.DisabledActions = union(merged.DisabledActions, p.DisabledActions)
	}

	log.Debug().
		Str("profile", name).
		Int("sources", len(nonNil)).
		Msg("Permission profiles merged")

	return merged
}

func intersect[T comparable](a, b []T) []T {
	set := make(map[T]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []T
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func union[T comparable](a, b []T) []T {
	seen := make(map[T]bool, len(a)+len(b))
	var out []T
	for _, list := range [][]T{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// matchAction performs glob matching of action names.
func matchAction(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	matched, err := path.Match(pattern, name)
	if err != nil {
		log.Warn().
			Err(err).
			Str("pattern", pattern).
			Msg("Invalid action pattern")
		return false
	}
	return matched
}

func matchAny(patterns []string, name string) (string, bool) {
	for _, pattern := range patterns {
		if matchAction(pattern, name) {
			return pattern, true
		}
	}
	return "", false
}

func hasCategory(list []Category, c Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// AllowlistEntry approves an action name or glob pattern permanently.
type AllowlistEntry struct {
	Action  string `json:"action,omitempty"`
	Pattern string `json:"pattern,omitempty"` // Glob pattern
	Reason  string `json:"reason,omitempty"`
	AddedAt string `json:"added_at"`
}

// Allowlist is a JSON file of actions that never need a prompt.
type Allowlist struct {
	filePath string
	entries  []AllowlistEntry
	mu       sync.RWMutex
}

// NewAllowlist loads the allowlist at filePath. A missing file is not an error.
func NewAllowlist(filePath string) (*Allowlist, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, ".actuator", "approvals.json")
	}

	a := &Allowlist{
		filePath: filePath,
		entries:  []AllowlistEntry{},
	}

	if err := a.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
		log.Info().Str("path", filePath).Msg("Allowlist file does not exist, will create on first save")
	}

	return a, nil
}

// Path returns the backing file path.
func (a *Allowlist) Path() string {
	return a.filePath
}

// Load loads the allowlist from file
func (a *Allowlist) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(a.filePath)
	if err != nil {
		return err
	}

	var entries []AllowlistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse allowlist: %w", err)
	}
	a.entries = entries

	log.Info().
		Str("path", a.filePath).
		Int("count", len(entries)).
		Msg("Allowlist loaded")

	return nil
}

// Save writes the allowlist to file
func (a *Allowlist) Save() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(a.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(a.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal allowlist: %w", err)
	}

	if err := os.WriteFile(a.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write allowlist: %w", err)
	}

	return nil
}

// Add adds an entry; duplicates are ignored.
func (a *Allowlist) Add(entry AllowlistEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.Action == "" && entry.Pattern == "" {
		return fmt.Errorf("either action or pattern must be specified")
	}
	if entry.Pattern != "" {
		if _, err := path.Match(entry.Pattern, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", entry.Pattern, err)
		}
	}

	for _, existing := range a.entries {
		if existing.Action == entry.Action && existing.Pattern == entry.Pattern {
			return nil
		}
	}

	a.entries = append(a.entries, entry)

	log.Info().
		Str("action", entry.Action).
		Str("pattern", entry.Pattern).
		Msg("Added to allowlist")

	return nil
}

// Remove removes the entries for an action name or pattern.
func (a *Allowlist) Remove(actionName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.entries[:0]
	found := false
	for _, entry := range a.entries {
		if entry.Action == actionName || entry.Pattern == actionName {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	if !found {
		return fmt.Errorf("entry not found in allowlist")
	}
	a.entries = kept
	return nil
}

// IsAllowed reports whether actionName matches an entry.
func (a *Allowlist) IsAllowed(actionName string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, entry := range a.entries {
		if entry.Action != "" && entry.Action == actionName {
			return true
		}
		if entry.Pattern != "" {
			if entry.Pattern == "*" {
				return true
			}
			if ok, err := path.Match(entry.Pattern, actionName); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// List returns a copy of all entries.
func (a *Allowlist) List() []AllowlistEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries := make([]AllowlistEntry, len(a.entries))
	copy(entries, a.entries)
	return entries
}

// Count returns the number of entries.
func (a *Allowlist) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

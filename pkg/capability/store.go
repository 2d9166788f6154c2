package capability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// profileDocument is the on-disk layout of a profiles file.
type profileDocument struct {
	Active   string              `yaml:"active"`
	Profiles []PermissionProfile `yaml:"profiles"`
}

// FileStore loads permission profiles from a YAML file and can reload
// them when the file changes. A failed reload keeps the last good set.
type FileStore struct {
	path string

	mu       sync.RWMutex
	profiles map[string]*PermissionProfile
	order    []string
	active   string
	override string

	debounce time.Duration
	onReload func()
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	timerMu  sync.Mutex
	timer    *time.Timer
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithDebounce sets how long the store waits for writes to settle before reloading.
func WithDebounce(d time.Duration) FileStoreOption {
	return func(s *FileStore) {
		s.debounce = d
	}
}

// WithReloadHook registers a callback invoked after every successful reload.
func WithReloadHook(fn func()) FileStoreOption {
	return func(s *FileStore) {
		s.onReload = fn
	}
}

// NewFileStore loads the profiles file at path.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		path:     filepath.Clean(path),
		profiles: make(map[string]*PermissionProfile),
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profiles file.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read profiles: %w", err)
	}

	var doc profileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse profiles: %w", err)
	}

	profiles := make(map[string]*PermissionProfile, len(doc.Profiles))
	order := make([]string, 0, len(doc.Profiles))
	for i := range doc.Profiles {
		p := doc.Profiles[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := profiles[p.Name]; dup {
			return fmt.Errorf("duplicate profile: %s", p.Name)
		}
		profiles[p.Name] = &p
		order = append(order, p.Name)
	}

	active := doc.Active
	if active == "" && len(order) == 1 {
		active = order[0]
	}
	if active != "" {
		if _, ok := profiles[active]; !ok {
			return fmt.Errorf("active profile not found: %s", active)
		}
	}

	s.mu.Lock()
	s.profiles = profiles
	s.order = order
	s.active = active
	if _, ok := profiles[s.override]; !ok {
		s.override = ""
	}
	s.mu.Unlock()

	log.Info().
		Str("path", s.path).
		Int("count", len(order)).
		Str("active", active).
		Msg("Permission profiles loaded")

	return nil
}

// ActiveProfile implements ProfileSource. It returns nil when no profile is active.
// The returned profile must not be modified.
func (s *FileStore) ActiveProfile() *PermissionProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := s.active
	if s.override != "" {
		name = s.override
	}
	return s.profiles[name]
}

// SetActive selects a profile by name, overriding the file's choice until
// the profile disappears from the file.
func (s *FileStore) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("profile not found: %s", name)
	}
	s.override = name
	return nil
}

// Get returns a profile by name.
func (s *FileStore) Get(name string) (*PermissionProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[name]
	return p, ok
}

// Profiles returns all profiles in file order.
func (s *FileStore) Profiles() []*PermissionProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PermissionProfile, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.profiles[name])
	}
	return out
}

// Watch reloads the file whenever it changes, until ctx is done or Close is called.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// watch the directory so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch profiles: %w", err)
	}
	s.watcher = watcher

	go s.eventLoop(ctx)

	log.Info().Str("path", s.path).Msg("Profile watcher started")
	return nil
}

// Close stops watching.
func (s *FileStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})

	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerMu.Unlock()

	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close watcher: %w", err)
		}
	}
	return nil
}

func (s *FileStore) eventLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.scheduleReload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Profile watcher error")

		case <-ctx.Done():
			_ = s.Close()
			return

		case <-s.done:
			return
		}
	}
}

func (s *FileStore) scheduleReload() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.Reload(); err != nil {
			log.Error().Err(err).Str("path", s.path).Msg("Profile reload failed, keeping previous profiles")
			return
		}
		if s.onReload != nil {
			s.onReload()
		}
	})
}

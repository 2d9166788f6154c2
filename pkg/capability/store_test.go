package capability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profilesYAML = `active: dev
profiles:
  - name: dev
    description: local development
    enabled_categories: [read, write]
    disabled_actions: ["delete_*"]
  - name: readonly
    enabled_categories: [read]
`

func writeProfiles(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileStore_Load(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), profilesYAML)

	store, err := NewFileStore(path)
	require.NoError(t, err)

	active := store.ActiveProfile()
	require.NotNil(t, active)
	assert.Equal(t, "dev", active.Name)
	assert.Equal(t, []Category{CategoryRead, CategoryWrite}, active.EnabledCategories)
	assert.Equal(t, []string{"delete_*"}, active.DisabledActions)

	profiles := store.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "readonly", profiles[1].Name)
}

func TestFileStore_SetActive(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), profilesYAML)
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SetActive("readonly"))
	assert.Equal(t, "readonly", store.ActiveProfile().Name)

	assert.Error(t, store.SetActive("missing"))
	assert.Equal(t, "readonly", store.ActiveProfile().Name)
}

func TestFileStore_SingleProfileIsActive(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), "profiles:\n  - name: only\n    enabled_actions: ['*']\n")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NotNil(t, store.ActiveProfile())
	assert.Equal(t, "only", store.ActiveProfile().Name)
}

func TestFileStore_NoActiveProfile(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), "profiles:\n  - name: a\n  - name: b\n")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	assert.Nil(t, store.ActiveProfile())
	d := NewValidator(nil).Validate("x", store.ActiveProfile())
	assert.Equal(t, ViolationNoProfile, d.Violation)
}

func TestFileStore_InvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "profiles: [",
		"missing active":   "active: ghost\nprofiles:\n  - name: a\n",
		"duplicate":        "profiles:\n  - name: a\n  - name: a\n",
		"invalid category": "profiles:\n  - name: a\n    enabled_categories: [teleport]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeProfiles(t, t.TempDir(), content)
			_, err := NewFileStore(path)
			assert.Error(t, err)
		})
	}

	_, err := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestFileStore_FailedReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeProfiles(t, dir, profilesYAML)
	store, err := NewFileStore(path)
	require.NoError(t, err)

	writeProfiles(t, dir, "profiles: [")
	assert.Error(t, store.Reload())
	assert.Equal(t, "dev", store.ActiveProfile().Name)
}

func TestFileStore_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeProfiles(t, dir, profilesYAML)

	reloaded := make(chan struct{}, 4)
	store, err := NewFileStore(path,
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func() { reloaded <- struct{}{} }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))
	defer store.Close()

	writeProfiles(t, dir, "active: readonly\nprofiles:\n  - name: readonly\n    enabled_categories: [read]\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("profiles were not reloaded")
	}
	assert.Equal(t, "readonly", store.ActiveProfile().Name)
}

package capabilities

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reglet-dev/warden/internal/domain/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_GetAndPut(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "nested", "grants.yaml")
	store := NewFileStore(configPath)

	// Missing file is an empty store
	_, found, err := store.Get("fetcher")
	require.NoError(t, err)
	assert.False(t, found)

	approval := permissions.Approval{
		Version: "1.2.0",
		Permissions: permissions.PluginPermissions{
			Network: []string{"api.example.com"},
			EnvVars: []string{"APP_MODE"},
		},
		ApprovedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	require.NoError(t, store.Put("fetcher", approval))
	require.NoError(t, store.Put("other", permissions.Approval{Version: "0.1.0"}))

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "fetcher:")
	assert.Contains(t, string(content), "- api.example.com")

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A fresh store sees what the first one wrote
	got, found, err := NewFileStore(configPath).Get("fetcher")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, approval.Version, got.Version)
	assert.Equal(t, approval.Permissions, got.Permissions)
	assert.True(t, approval.ApprovedAt.Equal(got.ApprovedAt))

	other, found, err := store.Get("other")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0.1.0", other.Version)
}

func TestFileStore_PutReplaces(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "grants.yaml"))
	require.NoError(t, store.Put("fetcher", permissions.Approval{Version: "1.0.0"}))
	require.NoError(t, store.Put("fetcher", permissions.Approval{Version: "2.0.0"}))

	got, _, err := store.Get("fetcher")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got.Version)
}

func TestFileStore_Get_InvalidYAML(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("plugins: [unclosed"), 0o600))

	_, _, err := NewFileStore(configPath).Get("fetcher")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse grants file")
}

func TestFileStore_ConcurrentPuts(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "grants.yaml"))
	names := []string{"a", "b", "c", "d", "e", "f"}

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(name, permissions.Approval{Version: "1.0.0"}))
		}()
	}
	wg.Wait()

	for _, name := range names {
		_, found, err := store.Get(name)
		require.NoError(t, err)
		assert.True(t, found, name)
	}
}

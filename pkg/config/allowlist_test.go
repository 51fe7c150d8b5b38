package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllowlist(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAllowlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "public-paths.yaml")
	writeAllowlist(t, path, "public_paths:\n  - /auth/\n  - healthz\n")

	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	assert.True(t, al.IsPublic("/auth/login"))
	assert.True(t, al.IsPublic("/healthz"), "bare entries get a leading slash")
	assert.False(t, al.IsPublic("/items"))
	assert.Equal(t, []string{"/auth/", "/healthz"}, al.Prefixes())
}

func TestLoadAllowlistErrors(t *testing.T) {
	_, err := LoadAllowlist(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeAllowlist(t, path, "public_paths: {not a list\n")
	_, err = LoadAllowlist(path)
	assert.Error(t, err)
}

func TestStaticAllowlist(t *testing.T) {
	al := NewStaticAllowlist([]string{"/auth/", "", "  /metrics "})
	assert.True(t, al.IsPublic("/auth/refresh"))
	assert.True(t, al.IsPublic("/metrics"))
	assert.False(t, al.IsPublic("/orders"))
}

func TestAllowlistWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "public-paths.yaml")
	writeAllowlist(t, path, "public_paths:\n  - /auth/\n")

	al, err := LoadAllowlist(path)
	require.NoError(t, err)
	require.False(t, al.IsPublic("/status"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, al.Watch(ctx, nil))

	writeAllowlist(t, path, "public_paths:\n  - /auth/\n  - /status\n")

	assert.Eventually(t, func() bool {
		return al.IsPublic("/status")
	}, 2*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case <-al.watchDone:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestAllowlistWatchReturnsPromptly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "public-paths.yaml")
	writeAllowlist(t, path, "public_paths:\n  - /auth/\n")

	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- al.Watch(ctx, nil) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch blocked instead of returning after setup")
	}
}

func TestAllowlistWatchSurvivesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "public-paths.yaml")
	writeAllowlist(t, path, "public_paths:\n  - /auth/\n")

	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, al.Watch(ctx, nil))

	// First update via atomic rename, the way editors and mounted
	// configmaps replace files.
	replaceAllowlist(t, dir, path, "public_paths:\n  - /auth/\n  - /status\n")
	assert.Eventually(t, func() bool {
		return al.IsPublic("/status")
	}, 2*time.Second, 25*time.Millisecond)

	// A second rename still reloads, so the watch outlived the swap.
	replaceAllowlist(t, dir, path, "public_paths:\n  - /auth/\n  - /metrics\n")
	assert.Eventually(t, func() bool {
		return al.IsPublic("/metrics") && !al.IsPublic("/status")
	}, 2*time.Second, 25*time.Millisecond)
}

func replaceAllowlist(t *testing.T, dir, path, content string) {
	t.Helper()
	tmp := filepath.Join(dir, "public-paths.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestAllowlistWatchRequiresFile(t *testing.T) {
	al := NewStaticAllowlist([]string{"/auth/"})
	err := al.Watch(context.Background(), nil)
	assert.Error(t, err)
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/natefinch/atomic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForCallback(ch <-chan string, timeout time.Duration) (string, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		return "", false
	}
}

func TestFileWatcherWatchFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "config.json")
	other := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0644))

	w, err := NewFileWatcher(testLogger())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	changed := make(chan string, 10)
	require.NoError(t, w.WatchFile(target, func(path string) { changed <- path }))

	require.NoError(t, os.WriteFile(other, []byte("{}"), 0644))
	_, ok := waitForCallback(changed, 4*reloadDebounce)
	assert.False(t, ok, "unrelated files must not trigger the callback")

	// Several quick writes collapse into one callback.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte(`{"n": 1}`), 0644))
	}
	path, ok := waitForCallback(changed, 2*time.Second)
	require.True(t, ok, "expected callback for config change")
	absTarget, err := filepath.Abs(target)
	require.NoError(t, err)
	assert.Equal(t, absTarget, path)

	_, ok = waitForCallback(changed, 4*reloadDebounce)
	assert.False(t, ok, "writes within the debounce window must be coalesced")
}

func TestFileWatcherSeesAtomicWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0644))

	w, err := NewFileWatcher(testLogger())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	changed := make(chan string, 10)
	require.NoError(t, w.WatchFile(target, func(path string) { changed <- path }))

	require.NoError(t, atomic.WriteFile(target, strings.NewReader(`{"n": 2}`)))
	_, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "expected callback for atomic replace")
}

func TestFileWatcherMatch(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWatcher(testLogger())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	changed := make(chan string, 10)
	require.NoError(t, w.Watch(dir, func(name string) bool {
		return strings.HasSuffix(name, ".html")
	}, func(path string) { changed <- path }))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.tmpl.html"), []byte("x"), 0644))

	path, ok := waitForCallback(changed, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "index.tmpl.html", filepath.Base(path))
}

func TestFileWatcherStop(t *testing.T) {
	w, err := NewFileWatcher(testLogger())
	require.NoError(t, err)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "Stop must be safe to call twice")
	assert.Error(t, w.Watch(t.TempDir(), func(string) bool { return true }, func(string) {}))
}

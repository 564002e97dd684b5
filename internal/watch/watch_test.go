package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
	if filepath.Base(path) == "bad.patch.txt" {
		return errors.New("rejected")
	}
	return os.Remove(path)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestWatcherProcessesExistingThenNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.patch.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.patch.md"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	rec := &recorder{}
	opts := DefaultOptions()
	opts.Debounce = 20 * time.Millisecond
	w, err := New(dir, rec.handle, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a.patch.md", "b.patch.txt"}, rec.seen())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.patch.txt"), []byte("c"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.md"), []byte("c"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.patch.txt"), []byte("c"), 0644))

	require.Eventually(t, func() bool {
		seen := rec.seen()
		return slices.Contains(seen, "bad.patch.txt") && slices.Contains(seen, "c.patch.txt")
	}, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, rec.seen(), "ignored.md")
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewValidates(t *testing.T) {
	noop := func(context.Context, string) error { return nil }
	dir := t.TempDir()

	_, err := New(dir, nil, DefaultOptions())
	assert.Error(t, err)

	_, err = New(dir, noop, Options{})
	assert.Error(t, err)

	_, err = New(dir, noop, Options{Patterns: []string{"["}})
	assert.Error(t, err)

	_, err = New(filepath.Join(dir, "missing"), noop, DefaultOptions())
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	w, err := New(t.TempDir(), func(context.Context, string) error { return nil }, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, w.Matches("/x/y/fix.patch.txt"))
	assert.True(t, w.Matches("fix.patch.md"))
	assert.False(t, w.Matches("fix.patch.txt.swp"))
}

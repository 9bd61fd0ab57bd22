package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	seen  chan string
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan string, 16)}
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	r.seen <- path
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func startWatcher(t *testing.T, dir string, r *recorder) {
	t.Helper()
	w, err := New(dir, r.handle, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give Run time to register the directory.
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder()
	startWatcher(t, dir, r)

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("first and second"), 0o644))

	select {
	case got := <-r.seen:
		assert.Equal(t, path, got)
	case <-time.After(3 * time.Second):
		t.Fatal("file was not handled")
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, r.count())
}

func TestWatcher_IgnoresUnsupportedAndHidden(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder()
	startWatcher(t, dir, r)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{1, 2, 3}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".draft.md"), []byte("# hidden"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# visible"), 0o644))

	select {
	case got := <-r.seen:
		assert.Equal(t, "readme.md", filepath.Base(got))
	case <-time.After(3 * time.Second):
		t.Fatal("supported file was not handled")
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, r.count())
}

func TestNew_RejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(file, func(context.Context, string) error { return nil })
	assert.Error(t, err)
}

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

	"github.com/jward/canon/internal/config"
	"github.com/jward/canon/internal/store"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handle(_ context.Context, rel string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rel)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func startWatcher(t *testing.T, root string, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(Config{
		Root:     root,
		Debounce: 50 * time.Millisecond,
		Filter:   config.IngestConfig{Include: []string{"**/*.py"}},
		Handler:  rec.handle,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
	return w
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(Config{Root: t.TempDir()})
	require.Error(t, err)
}

func TestWatcher_IngestsChangedFile(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec)

	require.NoError(t, os.WriteFile(filepath.Join(root, "mod.py"), []byte("def f():\n    pass\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0644))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"mod.py"}, rec.snapshot())
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec)

	path := filepath.Join(root, "mod.py")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("def f():\n    return "+string(rune('0'+i))+"\n"), 0644))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "a burst of writes settles into one ingestion")
}

func TestWatcher_SkipsUnchangedContent(t *testing.T) {
	root := t.TempDir()
	src := []byte("def f():\n    pass\n")
	path := filepath.Join(root, "mod.py")
	require.NoError(t, os.WriteFile(path, src, 0644))

	rec := &recorder{}
	w := startWatcher(t, root, rec)
	w.Seed("mod.py", store.HashBytes(src))

	require.NoError(t, os.WriteFile(path, src, 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	require.NoError(t, os.WriteFile(path, []byte("def f():\n    return 1\n"), 0644))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, root, rec)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "mod.py"), []byte("x = 1\n"), 0644))

	require.Eventually(t, func() bool {
		calls := rec.snapshot()
		return len(calls) == 1 && calls[0] == "pkg/mod.py"
	}, 5*time.Second, 20*time.Millisecond)
}

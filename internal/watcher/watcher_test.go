package watcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/fragment/internal/patch"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	assert.NotNil(t, fw.watcher)
	assert.NotNil(t, fw.debouncer)
	assert.Equal(t, 100*time.Millisecond, fw.debouncer.delay)
	assert.Empty(t, fw.filters)
	assert.Empty(t, fw.handlers)
}

func TestFileWatcherAddFilterAndHandler(t *testing.T) {
	fw, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(ShaderFilter)
	fw.AddHandler(func([]ChangeEvent) error { return nil })

	assert.Len(t, fw.filters, 1)
	assert.Len(t, fw.handlers, 1)
}

func TestFileWatcherRootContainment(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "shaders")
	require.NoError(t, os.MkdirAll(inside, 0o755))

	fw, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()
	require.NoError(t, fw.SetRoot(root))

	assert.NoError(t, fw.AddPath(inside))
	assert.NoError(t, fw.AddPath(root))

	err = fw.AddPath(filepath.Dir(root))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "outside")

	_, err = fw.validatePath(filepath.Join(root, "..", "elsewhere"))
	assert.Error(t, err)

	// Names that merely start with ".." stay inside.
	dotted := filepath.Join(root, "..shaders")
	require.NoError(t, os.MkdirAll(dotted, 0o755))
	assert.NoError(t, fw.AddPath(dotted))
}

func TestFileWatcherStartStop(t *testing.T) {
	root := t.TempDir()

	fw, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, fw.SetRoot(root))
	fw.AddFilter(ShaderFilter)

	var mu sync.Mutex
	var got []ChangeEvent
	fw.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, events...)
		return nil
	})
	require.NoError(t, fw.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.wgsl"), []byte("v1"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, ev := range got {
		assert.Equal(t, ".wgsl", filepath.Ext(ev.Path))
	}
	mu.Unlock()

	assert.NoError(t, fw.Stop())
}

func TestShaderFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"main.wgsl", true},
		{"shaders/blur.frag", true},
		{"shaders/quad.VERT", true},
		{"legacy/noise.glsl", true},
		{"sim/step.comp", true},
		{"sketch.go", false},
		{"README.md", false},
		{"wgsl", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, ShaderFilter(tc.path))
		})
	}
}

func TestExtensionFilter(t *testing.T) {
	filter := ExtensionFilter("png", ".JPG")
	assert.True(t, filter("a.png"))
	assert.True(t, filter("b.jpg"))
	assert.False(t, filter("c.wgsl"))
}

func TestIgnoreFilter(t *testing.T) {
	filter := IgnoreFilter("node_modules", "*.bak", "out")

	testCases := []struct {
		path     string
		expected bool
	}{
		{"shaders/main.wgsl", true},
		{"node_modules/pkg/a.wgsl", false},
		{"shaders/main.wgsl.bak", false},
		{"out/frame.wgsl", false},
		{"output/frame.wgsl", true},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, filter(tc.path))
		})
	}
}

func TestNoEditorTempFilter(t *testing.T) {
	assert.True(t, NoEditorTempFilter("shaders/main.wgsl"))
	assert.False(t, NoEditorTempFilter("shaders/main.wgsl~"))
	assert.False(t, NoEditorTempFilter("shaders/.#main.wgsl"))
	assert.False(t, NoEditorTempFilter("shaders/.main.wgsl.swp"))
}

func TestNoGitFilter(t *testing.T) {
	assert.True(t, NoGitFilter("shaders/main.wgsl"))
	assert.False(t, NoGitFilter(".git/config"))
	assert.False(t, NoGitFilter("sketch/.git/HEAD"))
}

func TestDebouncer(t *testing.T) {
	d := newDebouncer(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.start(ctx)

	d.events <- ChangeEvent{Type: EventTypeCreated, Path: "b.wgsl"}
	d.events <- ChangeEvent{Type: EventTypeModified, Path: "a.wgsl"}
	d.events <- ChangeEvent{Type: EventTypeModified, Path: "b.wgsl"}

	select {
	case events := <-d.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.wgsl", events[0].Path)
		assert.Equal(t, "b.wgsl", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type, "latest event per path wins")
	case <-time.After(time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestDebouncerFlushEmpty(t *testing.T) {
	d := newDebouncer(time.Millisecond)
	d.flush()

	select {
	case <-d.output:
		t.Fatal("empty flush produced output")
	default:
	}
}

func TestDebouncerConcurrentEvents(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d.addEvent(ChangeEvent{Type: EventTypeModified, Path: fmt.Sprintf("s%d.wgsl", i)})
			}
		}(i)
	}
	wg.Wait()

	select {
	case events := <-d.output:
		assert.Len(t, events, 10)
	case <-time.After(time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestNotifierDedupesByContent(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "main.wgsl")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o644))

	out := make(chan patch.Notification, 10)
	n := NewNotifier(context.Background(), out, func(p string) string { return filepath.Base(p) }, nil)
	n.Prime("main.wgsl", "v1")

	modified := []ChangeEvent{{Type: EventTypeModified, Path: file}}

	// Unchanged content after a save is not resent.
	require.NoError(t, n.Handle(modified))
	assert.Empty(t, out)

	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))
	require.NoError(t, n.Handle(modified))
	require.Len(t, out, 1)
	assert.Equal(t, patch.Notification{OriginPath: "main.wgsl", Source: "v2"}, <-out)

	require.NoError(t, n.Handle(modified))
	assert.Empty(t, out)

	n.Forget()
	require.NoError(t, n.Handle(modified))
	assert.Len(t, out, 1)
}

func TestNotifierSkipsDeletesAndReportsReadErrors(t *testing.T) {
	root := t.TempDir()
	out := make(chan patch.Notification, 10)
	n := NewNotifier(context.Background(), out, filepath.Base, nil)

	err := n.Handle([]ChangeEvent{
		{Type: EventTypeDeleted, Path: filepath.Join(root, "gone.wgsl")},
		{Type: EventTypeRenamed, Path: filepath.Join(root, "moved.wgsl")},
	})
	require.NoError(t, err)

	err = n.Handle([]ChangeEvent{{Type: EventTypeCreated, Path: filepath.Join(root, "missing.wgsl")}})
	assert.Error(t, err)
	assert.Empty(t, out)
}

func TestNotifierStopsWhenCancelled(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "main.wgsl")
	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))

	// Nobody drains out once the orchestrator has shut down.
	out := make(chan patch.Notification)
	ctx, cancel := context.WithCancel(context.Background())
	n := NewNotifier(ctx, out, filepath.Base, nil)
	n.Prime("main.wgsl", "v1")

	done := make(chan error, 1)
	go func() {
		done <- n.Handle([]ChangeEvent{{Type: EventTypeModified, Path: file}})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Handle blocked after cancellation")
	}

	// The unsent content is not recorded as sent.
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, sha256.Sum256([]byte("v1")), n.sent["main.wgsl"])
}

func TestWatcherFeedsNotifier(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "main.wgsl")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o644))

	out := make(chan patch.Notification, 10)
	n := NewNotifier(context.Background(), out, filepath.Base, nil)
	n.Prime("main.wgsl", "v1")

	fw, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()
	require.NoError(t, fw.SetRoot(root))
	fw.AddFilter(ShaderFilter)
	fw.AddHandler(n.Handle)
	require.NoError(t, fw.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))

	select {
	case got := <-out:
		assert.Equal(t, "main.wgsl", got.OriginPath)
		assert.Equal(t, "v2", got.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}

package errors

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentErrorFormatting(t *testing.T) {
	err := NewCompileError("shaders/a.wgsl", errors.New("unexpected token")).
		WithComponent("gpu").
		WithInstance("p1")

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_COMPILE_FAILED]")
	assert.Contains(t, msg, "component:gpu")
	assert.Contains(t, msg, "preview:p1")
	assert.Contains(t, msg, "shaders/a.wgsl")
	assert.Contains(t, msg, "unexpected token")
}

func TestFragmentErrorIsAndUnwrap(t *testing.T) {
	cause := errors.New("device lost")
	err := NewAllocationError("p2", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsAllocationFailure(err))
	assert.False(t, IsRecoverable(err))

	wrapped := fmt.Errorf("mount: %w", NewStaleInstanceError("p3", "resize"))
	assert.True(t, errors.Is(wrapped, ErrStaleInstance))
	assert.True(t, IsStale(wrapped))
	assert.True(t, IsRecoverable(wrapped))
	assert.False(t, errors.Is(wrapped, ErrDuplicateInstance))

	assert.True(t, errors.Is(NewDuplicateInstanceError("p4"), ErrDuplicateInstance))
}

func TestPredicatesOnPlainErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.False(t, IsCompileError(plain))
	assert.False(t, IsStale(plain))
	assert.False(t, IsAllocationFailure(plain))
	assert.False(t, IsRecoverable(plain))
}

func TestWithContext(t *testing.T) {
	err := NewValidationError(ErrCodeInvalidGeometry, "width must be positive").
		WithContext("width", 0)

	assert.Equal(t, 0, err.Context["width"])
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
}

func TestCompileErrorCollector(t *testing.T) {
	collector := NewCompileErrorCollector()
	assert.False(t, collector.HasErrors())
	assert.Empty(t, collector.ErrorOverlay())

	collector.ReportCompileError("surface-b", NewCompileError("b.wgsl", errors.New("bad")))
	collector.ReportCompileError("surface-a", errors.New("plain failure"))
	collector.ReportCompileError("surface-c", nil)

	require.True(t, collector.HasErrors())
	snapshot := collector.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "surface-a", snapshot[0].SurfaceID)
	assert.Equal(t, "surface-b", snapshot[1].SurfaceID)
	assert.Equal(t, "b.wgsl", snapshot[1].OriginPath)

	collector.ClearCompileError("surface-b")
	_, ok := collector.Get("surface-b")
	assert.False(t, ok)
	_, ok = collector.Get("surface-a")
	assert.True(t, ok, "clearing one surface must not clear another")

	collector.Clear()
	assert.False(t, collector.HasErrors())
}

func TestErrorOverlayEscapesMessages(t *testing.T) {
	collector := NewCompileErrorCollector()
	collector.ReportCompileError("s", errors.New("<script>alert(1)</script>"))

	overlay := collector.ErrorOverlay()
	assert.Contains(t, overlay, "fragment-error-overlay")
	assert.NotContains(t, overlay, "<script>")
	assert.Contains(t, overlay, "&lt;script&gt;")
}

type recordingSink struct {
	reported []string
	cleared  []string
}

func (r *recordingSink) ReportCompileError(id string, _ error) { r.reported = append(r.reported, id) }
func (r *recordingSink) ClearCompileError(id string)          { r.cleared = append(r.cleared, id) }

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	sink := MultiSink{a, b}

	sink.ReportCompileError("s1", errors.New("x"))
	sink.ClearCompileError("s1")

	for _, r := range []*recordingSink{a, b} {
		assert.Equal(t, []string{"s1"}, r.reported)
		assert.Equal(t, []string{"s1"}, r.cleared)
	}
}

func TestCompileErrorCollectorConcurrentAccess(t *testing.T) {
	collector := NewCompileErrorCollector()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("surface-%d", i%5)
			collector.ReportCompileError(id, errors.New("e"))
			_ = collector.Snapshot()
			if i%2 == 0 {
				collector.ClearCompileError(id)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(collector.Snapshot()), 5)
}

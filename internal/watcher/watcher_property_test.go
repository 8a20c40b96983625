//go:build property

package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/fragment/internal/patch"
)

func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("flush emits one sorted event per distinct path", prop.ForAll(
		func(paths []int) bool {
			d := newDebouncer(time.Hour)
			distinct := make(map[string]bool)
			for _, p := range paths {
				name := fmt.Sprintf("s%d.wgsl", p)
				distinct[name] = true
				d.pending = append(d.pending, ChangeEvent{Type: EventTypeModified, Path: name})
			}
			d.flush()

			if len(distinct) == 0 {
				return len(d.output) == 0
			}
			events := <-d.output
			if len(events) != len(distinct) {
				return false
			}
			for i := 1; i < len(events); i++ {
				if events[i-1].Path >= events[i].Path {
					return false
				}
			}
			return len(d.pending) == 0
		},
		gen.SliceOf(gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}

func TestNotifierProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("a notification is sent only when content changes", prop.ForAll(
		func(versions []int) bool {
			root := t.TempDir()
			file := filepath.Join(root, "main.wgsl")
			out := make(chan patch.Notification, len(versions)+1)
			n := NewNotifier(context.Background(), out, filepath.Base, nil)

			want := 0
			last := -1
			for _, v := range versions {
				if err := os.WriteFile(file, []byte(fmt.Sprintf("v%d", v)), 0o644); err != nil {
					return false
				}
				if err := n.Handle([]ChangeEvent{{Type: EventTypeModified, Path: file}}); err != nil {
					return false
				}
				if v != last {
					want++
					last = v
				}
			}
			return len(out) == want
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

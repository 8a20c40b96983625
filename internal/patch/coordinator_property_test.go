//go:build property

package patch

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// op codes for the generated schedules
const (
	opEnqueue = iota
	opFrame
	opJoin
	opLeave
	opCount
)

// TestCoordinatorProperties drives random schedules of joins, leaves, frames
// and enqueues and checks the retirement invariants after every step.
func TestCoordinatorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("every generation retires at most once and never reappears", prop.ForAll(
		func(ops []int) bool {
			c := NewCoordinator(nil)
			seen := make(map[uint64]int)
			c.OnRetire(func(g uint64) { seen[g]++ })

			live := map[string]bool{}
			for i, raw := range ops {
				id := fmt.Sprintf("p%d", raw%4)
				switch (raw / 4) % opCount {
				case opEnqueue:
					c.Enqueue(Notification{OriginPath: "a.wgsl", Source: fmt.Sprint(i)})
				case opFrame:
					if !live[id] {
						continue
					}
					patches, err := c.Begin(id)
					if err != nil {
						return false
					}
					for _, p := range patches {
						if p.Generation <= c.Stats().Retired {
							return false
						}
					}
					if err := c.Complete(id); err != nil {
						return false
					}
				case opJoin:
					if live[id] {
						continue
					}
					if err := c.Join(id); err != nil {
						return false
					}
					live[id] = true
				case opLeave:
					c.Leave(id)
					delete(live, id)
				}

				if c.Stats().Live != len(live) {
					return false
				}
			}

			for _, count := range seen {
				if count != 1 {
					return false
				}
			}
			return c.Stats().RetiredCount == len(seen)
		},
		gen.SliceOf(gen.IntRange(0, 4*opCount-1)),
	))

	properties.Property("once all live previews render, nothing stays pending", prop.ForAll(
		func(instances, notifications int) bool {
			c := NewCoordinator(nil)
			for i := 0; i < instances; i++ {
				_ = c.Join(fmt.Sprint(i))
			}
			for i := 0; i < notifications; i++ {
				c.Enqueue(Notification{OriginPath: fmt.Sprintf("%d.wgsl", i%3), Source: "x"})
			}
			for i := 0; i < instances; i++ {
				if _, err := c.Begin(fmt.Sprint(i)); err != nil {
					return false
				}
				if err := c.Complete(fmt.Sprint(i)); err != nil {
					return false
				}
			}
			return c.Stats().Pending == 0
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

package patch

import (
	"context"
	"sync"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
)

// RetireFunc is called once per retired generation, outside the lock.
type RetireFunc func(generation uint64)

// CursorState is a preview's position in the generation sequence.
type CursorState struct {
	// Snapshot is the newest generation the preview took at its last beforeUpdate.
	Snapshot uint64
	// Rendered is the newest generation the preview finished a frame under.
	Rendered uint64
	InFrame  bool
	// RenderedThisGeneration resets when a new generation opens and is set
	// when a frame completes under the newest generation.
	RenderedThisGeneration bool
}

// Stats summarises the coordinator.
type Stats struct {
	Latest       uint64 `json:"latest"`
	Retired      uint64 `json:"retired"`
	Pending      int    `json:"pending"`
	Live         int    `json:"live"`
	RetiredCount int    `json:"retired_count"`
}

// Coordinator owns the patch queue and decides when each preview applies a
// generation and when a generation retires.
//
// Notification producers only ever append. Each preview drives its own cursor
// through Begin and Complete at its draw boundaries; the snapshot taken at
// Begin does not move until the next Begin, so a frame never migrates to a
// newer generation half way through.
type Coordinator struct {
	mu           sync.Mutex
	queue        Queue
	cursors      map[string]*CursorState
	retired      uint64
	retiredCount int
	// overlay holds the newest source per origin from retired generations so
	// programs bound after retirement still resolve the edited source.
	overlay  map[string]string
	onRetire []RetireFunc
	logger   logging.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Coordinator{
		cursors: make(map[string]*CursorState),
		overlay: make(map[string]string),
		logger:  logger.WithComponent("patch-coordinator"),
	}
}

// OnRetire registers fn to run after each generation retires.
func (c *Coordinator) OnRetire(fn RetireFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRetire = append(c.onRetire, fn)
}

// Enqueue appends a notification and returns the generation it landed in.
func (c *Coordinator) Enqueue(n Notification) uint64 {
	c.mu.Lock()
	p, opened := c.queue.Append(n)
	if opened {
		for _, cur := range c.cursors {
			cur.RenderedThisGeneration = false
		}
	}
	c.mu.Unlock()

	c.logger.Debug(context.Background(), "Patch queued",
		"origin", p.OriginPath, "generation", p.Generation, "new_generation", opened)
	return p.Generation
}

// Feed enqueues notifications from ch until ctx is done or ch closes.
func (c *Coordinator) Feed(ctx context.Context, ch <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			c.Enqueue(n)
		}
	}
}

// Join adds a live preview. It starts after every retired generation and
// blocks retirement of the rest until it renders them.
func (c *Coordinator) Join(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cursors[id]; exists {
		return fragerrors.NewDuplicateInstanceError(id)
	}
	c.cursors[id] = &CursorState{Snapshot: c.retired, Rendered: c.retired}
	return nil
}

// Leave removes a preview from retirement accounting. Any generation that
// was only waiting on it retires immediately.
func (c *Coordinator) Leave(id string) {
	c.mu.Lock()
	if _, exists := c.cursors[id]; !exists {
		c.mu.Unlock()
		return
	}
	delete(c.cursors, id)
	retired, hooks := c.retireLocked()
	c.mu.Unlock()

	c.notifyRetired(retired, hooks)
}

// Begin is called at a preview's beforeUpdate. It snapshots the newest
// generation, freezes it and returns the patches the preview has not applied
// yet, oldest generation first and in arrival order within a generation.
func (c *Coordinator) Begin(id string) ([]Patch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.cursors[id]
	if !ok {
		return nil, fragerrors.NewStaleInstanceError(id, "beforeUpdate")
	}

	target := c.queue.Latest()
	c.queue.Freeze(target)
	patches := c.queue.Between(cur.Snapshot, target)

	cur.Snapshot = target
	cur.InFrame = true
	cur.RenderedThisGeneration = false

	return patches, nil
}

// Complete is called at a preview's afterUpdate. It records the snapshot as
// rendered and retires every generation all live previews have rendered.
func (c *Coordinator) Complete(id string) error {
	c.mu.Lock()
	cur, ok := c.cursors[id]
	if !ok {
		c.mu.Unlock()
		return fragerrors.NewStaleInstanceError(id, "afterUpdate")
	}

	cur.Rendered = cur.Snapshot
	cur.InFrame = false
	cur.RenderedThisGeneration = cur.Snapshot == c.queue.Latest()

	retired, hooks := c.retireLocked()
	c.mu.Unlock()

	c.notifyRetired(retired, hooks)
	return nil
}

// retireLocked pops Broadcast generations from the front of the queue while
// every live cursor has rendered them. Open generations are never retired:
// nobody has consumed them yet, even when no preview is live.
func (c *Coordinator) retireLocked() ([]uint64, []RetireFunc) {
	var retired []uint64
	for {
		g, ok := c.queue.Oldest()
		if !ok || g.State != GenerationBroadcast {
			break
		}
		for _, cur := range c.cursors {
			if cur.Rendered < g.Number {
				return retired, c.hooksFor(retired)
			}
		}

		g = c.queue.PopOldest()
		for _, p := range g.Patches {
			c.overlay[p.OriginPath] = p.Source
		}
		c.retired = g.Number
		c.retiredCount++
		retired = append(retired, g.Number)
	}
	return retired, c.hooksFor(retired)
}

func (c *Coordinator) hooksFor(retired []uint64) []RetireFunc {
	if len(retired) == 0 {
		return nil
	}
	return append([]RetireFunc(nil), c.onRetire...)
}

func (c *Coordinator) notifyRetired(retired []uint64, hooks []RetireFunc) {
	for _, gen := range retired {
		c.logger.Debug(context.Background(), "Generation retired", "generation", gen)
		for _, fn := range hooks {
			fn(gen)
		}
	}
}

// Resolve returns the newest queued source for origin that the preview may
// see: unretired generations up to its snapshot, then retired sources.
// Unknown ids see every unretired generation.
func (c *Coordinator) Resolve(id, origin string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := c.queue.Latest()
	if cur, ok := c.cursors[id]; ok {
		limit = cur.Snapshot
	}

	patches := c.queue.Between(c.retired, limit)
	for i := len(patches) - 1; i >= 0; i-- {
		if patches[i].OriginPath == origin {
			return patches[i].Source, true
		}
	}

	src, ok := c.overlay[origin]
	return src, ok
}

// Reset drops every queued and retired patch, as when the whole sketch is
// reloaded and its sources are read fresh.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Clear()
	c.resetThroughLocked(c.queue.Latest())
}

// Seal freezes every queued generation and returns the newest generation
// number. Notifications enqueued afterwards open a later generation, so a
// following ResetThrough never drops them.
func (c *Coordinator) Seal() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest := c.queue.Latest()
	c.queue.Freeze(latest)
	return latest
}

// ResetThrough drops generations up to and including gen together with every
// retired source. Later generations stay queued for the previews that join
// next.
func (c *Coordinator) ResetThrough(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.DropThrough(gen)
	c.resetThroughLocked(gen)
}

func (c *Coordinator) resetThroughLocked(gen uint64) {
	c.overlay = make(map[string]string)
	c.retired = max(c.retired, gen)
	for _, cur := range c.cursors {
		cur.Snapshot = max(cur.Snapshot, c.retired)
		cur.Rendered = max(cur.Rendered, c.retired)
		cur.RenderedThisGeneration = cur.Rendered >= c.queue.Latest()
	}
}

// Cursor returns the generation bookkeeping for id.
func (c *Coordinator) Cursor(id string) (CursorState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.cursors[id]
	if !ok {
		return CursorState{}, false
	}
	return *cur, true
}

// Generations returns the unretired generations.
func (c *Coordinator) Generations() []Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Generations()
}

// Stats returns a summary of the coordinator.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Latest:       c.queue.Latest(),
		Retired:      c.retired,
		Pending:      c.queue.Pending(),
		Live:         len(c.cursors),
		RetiredCount: c.retiredCount,
	}
}

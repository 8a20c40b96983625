// Package patch holds pending resource replacements (shader sources keyed by
// the file they came from) and coordinates when each preview applies them and
// when a batch can be dropped.
//
// Notifications are grouped into generations. A generation accepts new
// patches while Open, is frozen into Broadcast the first time a preview starts
// a frame that includes it, and is Retired once every live preview has
// finished a frame under it.
package patch

import "fmt"

// Notification is one "resource changed" event from the watcher channel.
type Notification struct {
	OriginPath string `json:"origin_path"`
	Source     string `json:"source"`
}

// Patch is a queued replacement tagged with its generation.
type Patch struct {
	OriginPath string `json:"origin_path"`
	Source     string `json:"source"`
	Generation uint64 `json:"generation"`
	// Seq is the arrival order across all generations.
	Seq uint64 `json:"seq"`
}

// GenerationState is the lifecycle state of a batch of patches.
type GenerationState int

const (
	GenerationOpen GenerationState = iota
	GenerationBroadcast
	GenerationRetired
)

// String returns the string representation of the GenerationState
func (s GenerationState) String() string {
	switch s {
	case GenerationOpen:
		return "open"
	case GenerationBroadcast:
		return "broadcast"
	case GenerationRetired:
		return "retired"
	default:
		return fmt.Sprintf("GenerationState(%d)", int(s))
	}
}

// Generation is a batch of patches grouped by arrival.
type Generation struct {
	Number  uint64
	State   GenerationState
	Patches []Patch
}

// Queue keeps unretired generations in ascending order. It is not safe for
// concurrent use; the Coordinator serialises access.
type Queue struct {
	gens   []*Generation
	latest uint64
	seq    uint64
}

// Latest returns the newest generation number issued, 0 if none.
func (q *Queue) Latest() uint64 { return q.latest }

// Append adds n to the newest generation if it is still Open, otherwise it
// opens generation latest+1. It reports whether a new generation was opened.
func (q *Queue) Append(n Notification) (Patch, bool) {
	q.seq++
	opened := false

	var gen *Generation
	if len(q.gens) > 0 && q.gens[len(q.gens)-1].State == GenerationOpen {
		gen = q.gens[len(q.gens)-1]
	} else {
		q.latest++
		gen = &Generation{Number: q.latest, State: GenerationOpen}
		q.gens = append(q.gens, gen)
		opened = true
	}

	p := Patch{
		OriginPath: n.OriginPath,
		Source:     n.Source,
		Generation: gen.Number,
		Seq:        q.seq,
	}
	gen.Patches = append(gen.Patches, p)

	return p, opened
}

// Freeze moves every Open generation up to and including upTo into Broadcast.
func (q *Queue) Freeze(upTo uint64) {
	for _, g := range q.gens {
		if g.Number > upTo {
			break
		}
		if g.State == GenerationOpen {
			g.State = GenerationBroadcast
		}
	}
}

// Between returns the patches of generations in (after, upTo], generation
// order first and arrival order within a generation.
func (q *Queue) Between(after, upTo uint64) []Patch {
	var out []Patch
	for _, g := range q.gens {
		if g.Number <= after {
			continue
		}
		if g.Number > upTo {
			break
		}
		out = append(out, g.Patches...)
	}
	return out
}

// Oldest returns the oldest unretired generation.
func (q *Queue) Oldest() (*Generation, bool) {
	if len(q.gens) == 0 {
		return nil, false
	}
	return q.gens[0], true
}

// PopOldest marks the oldest generation Retired and drops it from the queue.
func (q *Queue) PopOldest() *Generation {
	if len(q.gens) == 0 {
		return nil
	}
	g := q.gens[0]
	g.State = GenerationRetired
	q.gens[0] = nil
	q.gens = q.gens[1:]
	return g
}

// Pending returns the number of unretired generations.
func (q *Queue) Pending() int { return len(q.gens) }

// Generations returns a copy of the unretired generations.
func (q *Queue) Generations() []Generation {
	out := make([]Generation, len(q.gens))
	for i, g := range q.gens {
		out[i] = Generation{
			Number:  g.Number,
			State:   g.State,
			Patches: append([]Patch(nil), g.Patches...),
		}
	}
	return out
}

// DropThrough marks generations up to and including upTo Retired and drops
// them. Newer generations stay queued.
func (q *Queue) DropThrough(upTo uint64) {
	i := 0
	for ; i < len(q.gens) && q.gens[i].Number <= upTo; i++ {
		q.gens[i].State = GenerationRetired
		q.gens[i] = nil
	}
	q.gens = q.gens[i:]
}

// Clear drops every generation. Numbering continues from Latest.
func (q *Queue) Clear() {
	for _, g := range q.gens {
		g.State = GenerationRetired
	}
	q.gens = nil
}

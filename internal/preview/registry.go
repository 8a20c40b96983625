// Package preview keeps the table of live preview instances: which ids exist,
// which backend each uses and its current geometry.
package preview

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/renderer"
)

// Instance describes a mounted preview
type Instance struct {
	ID            string        `json:"id"`
	Kind          renderer.Kind `json:"-"`
	Backend       string        `json:"backend"`
	SurfaceID     string        `json:"surface_id"`
	Container     string        `json:"container,omitempty"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	PixelDensity  float64       `json:"pixel_density"`
	BackingWidth  int           `json:"backing_width"`
	BackingHeight int           `json:"backing_height"`
	MountedAt     time.Time     `json:"mounted_at"`
}

// Event represents a change in the registry
type Event struct {
	Type      EventType
	Instance  Instance
	Timestamp time.Time
}

// EventType represents the type of registry event
type EventType int

const (
	EventMounted EventType = iota
	EventResized
	EventDestroyed
)

// String returns the string representation of the EventType
func (t EventType) String() string {
	switch t {
	case EventMounted:
		return "mounted"
	case EventResized:
		return "resized"
	case EventDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Membership is told about every committed and released instance. The patch
// coordinator implements it. Calls are made with the registry lock held.
type Membership interface {
	Join(id string) error
	Leave(id string)
}

// Registry manages all live preview instances
type Registry struct {
	instances map[string]*Instance
	reserved  map[string]renderer.Kind
	mutex     sync.RWMutex
	watchers  []chan Event
	members   Membership
	logger    logging.Logger
}

// NewRegistry creates an empty registry. members may be nil.
func NewRegistry(members Membership, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		instances: make(map[string]*Instance),
		reserved:  make(map[string]renderer.Kind),
		watchers:  make([]chan Event, 0),
		members:   members,
		logger:    logger.WithComponent("preview-registry"),
	}
}

// ValidateID rejects ids that cannot be used in URLs and export file names.
func ValidateID(id string) error {
	clean := filepath.Clean(id)
	switch {
	case id == "" || clean == ".":
		return fragerrors.NewValidationError(fragerrors.ErrCodeInvalidInstanceID, "empty preview id")
	case strings.Contains(clean, ".."):
		return fragerrors.NewValidationError(fragerrors.ErrCodeInvalidInstanceID,
			fmt.Sprintf("path traversal in preview id: %s", id))
	case strings.ContainsAny(id, `/\`) || filepath.IsAbs(clean):
		return fragerrors.NewValidationError(fragerrors.ErrCodeInvalidInstanceID,
			fmt.Sprintf("path separators not allowed in preview id: %s", id))
	}
	return nil
}

// Reserve claims id ahead of backend allocation. A reserved id is not counted
// and receives no lifecycle calls until Commit.
func (r *Registry) Reserve(id string, kind renderer.Kind) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.instances[id]; exists {
		return fragerrors.NewDuplicateInstanceError(id)
	}
	if _, exists := r.reserved[id]; exists {
		return fragerrors.NewDuplicateInstanceError(id)
	}
	r.reserved[id] = kind
	return nil
}

// Commit turns a reservation into a live instance and joins it to the
// membership.
func (r *Registry) Commit(inst Instance) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	kind, ok := r.reserved[inst.ID]
	if !ok {
		return fragerrors.NewStaleInstanceError(inst.ID, "commit")
	}
	if r.members != nil {
		if err := r.members.Join(inst.ID); err != nil {
			return fmt.Errorf("join %s: %w", inst.ID, err)
		}
	}
	delete(r.reserved, inst.ID)

	inst.Kind = kind
	inst.Backend = kind.String()
	if inst.MountedAt.IsZero() {
		inst.MountedAt = time.Now()
	}
	r.instances[inst.ID] = &inst
	r.notify(EventMounted, inst)

	r.logger.Info(context.Background(), "Preview mounted", "id", inst.ID, "backend", inst.Backend)
	return nil
}

// Release removes id. A reservation is rolled back silently; a live instance
// leaves the membership in the same critical section, so it is never waited
// on afterwards. It reports whether a live instance was removed.
func (r *Registry) Release(id string) (Instance, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.reserved[id]; ok {
		delete(r.reserved, id)
		return Instance{}, false
	}

	inst, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	delete(r.instances, id)
	if r.members != nil {
		r.members.Leave(id)
	}
	r.notify(EventDestroyed, *inst)

	r.logger.Info(context.Background(), "Preview destroyed", "id", id)
	return *inst, true
}

// UpdateGeometry records a resize.
func (r *Registry) UpdateGeometry(id string, width, height int, density float64, backingW, backingH int) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return false
	}
	inst.Width, inst.Height, inst.PixelDensity = width, height, density
	inst.BackingWidth, inst.BackingHeight = backingW, backingH
	r.notify(EventResized, *inst)
	return true
}

// notify must be called with the lock held.
func (r *Registry) notify(t EventType, inst Instance) {
	event := Event{Type: t, Instance: inst, Timestamp: time.Now()}
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Get retrieves a live instance by id
func (r *Registry) Get(id string) (Instance, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// All returns the live instances ordered by id.
func (r *Registry) All() []Instance {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live instances. Reservations are not counted.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.instances)
}

// CountByKind returns the number of live instances per backend.
func (r *Registry) CountByKind() map[renderer.Kind]int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make(map[renderer.Kind]int)
	for _, inst := range r.instances {
		out[inst.Kind]++
	}
	return out
}

// Watch returns a channel that receives registry events
func (r *Registry) Watch() <-chan Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *Registry) UnWatch(ch <-chan Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

package watcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"

	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/patch"
)

// Notifier converts debounced changes into patch notifications. A file whose
// content matches what was last sent for its origin is not sent again.
type Notifier struct {
	ctx    context.Context
	out    chan<- patch.Notification
	origin func(path string) string
	logger logging.Logger

	mu   sync.Mutex
	sent map[string][sha256.Size]byte
}

// NewNotifier sends to out until ctx is done. origin maps a file path to the
// origin key the sketch loaded it under.
func NewNotifier(ctx context.Context, out chan<- patch.Notification, origin func(path string) string, logger logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		ctx:    ctx,
		out:    out,
		origin: origin,
		logger: logger.WithComponent("notifier"),
		sent:   make(map[string][sha256.Size]byte),
	}
}

// Prime records the current content of an origin without sending it.
func (n *Notifier) Prime(origin, source string) {
	n.mu.Lock()
	n.sent[origin] = sha256.Sum256([]byte(source))
	n.mu.Unlock()
}

// Forget drops every recorded digest, as after a sketch reload.
func (n *Notifier) Forget() {
	n.mu.Lock()
	n.sent = make(map[string][sha256.Size]byte)
	n.mu.Unlock()
}

// Handle implements ChangeHandler. Deleted and renamed files are skipped;
// previews keep rendering the last source they had.
func (n *Notifier) Handle(events []ChangeEvent) error {
	var firstErr error
	for _, ev := range events {
		if ev.Type != EventTypeCreated && ev.Type != EventTypeModified {
			continue
		}
		src, err := os.ReadFile(ev.Path)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("read %s: %w", ev.Path, err)
			}
			continue
		}

		origin := n.origin(ev.Path)
		sum := sha256.Sum256(src)

		n.mu.Lock()
		prev, seen := n.sent[origin]
		if seen && prev == sum {
			n.mu.Unlock()
			continue
		}
		n.sent[origin] = sum
		n.mu.Unlock()

		select {
		case n.out <- patch.Notification{OriginPath: origin, Source: string(src)}:
		case <-n.ctx.Done():
			// Unsent; a later event for the same content must not be skipped.
			n.mu.Lock()
			if seen {
				n.sent[origin] = prev
			} else {
				delete(n.sent, origin)
			}
			n.mu.Unlock()
			return n.ctx.Err()
		}
		n.logger.Info(n.ctx, "Shader changed", "origin", origin, "bytes", len(src))
	}
	return firstErr
}

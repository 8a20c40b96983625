package surface

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/preview"
	"github.com/conneroisu/fragment/internal/renderer"
)

// DrawContext is handed to a sketch once per instance per frame.
type DrawContext struct {
	Instance preview.Instance
	Surface  renderer.Surface
	Frame    uint64
	Elapsed  time.Duration
}

// Sketch draws one frame on one surface.
type Sketch interface {
	Draw(ctx context.Context, dc DrawContext) error
}

// SketchFunc adapts a function to Sketch.
type SketchFunc func(ctx context.Context, dc DrawContext) error

// Draw calls f.
func (f SketchFunc) Draw(ctx context.Context, dc DrawContext) error { return f(ctx, dc) }

// Scheduler is the draw loop. Each tick runs one frame for every mounted
// instance, one instance at a time.
type Scheduler struct {
	host     *Host
	sketch   Sketch
	interval time.Duration
	logger   logging.Logger

	frame   atomic.Uint64
	started time.Time
}

// NewScheduler creates a scheduler running at fps frames per second.
func NewScheduler(host *Host, sketch Sketch, fps int, logger logging.Logger) *Scheduler {
	if fps <= 0 {
		fps = 60
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		host:     host,
		sketch:   sketch,
		interval: time.Second / time.Duration(fps),
		logger:   logger.WithComponent("scheduler"),
		started:  time.Now(),
	}
}

// Frames returns the number of completed ticks.
func (s *Scheduler) Frames() uint64 { return s.frame.Load() }

// Tick draws one frame on every live instance. Errors are logged per
// instance and never stop the others.
func (s *Scheduler) Tick(ctx context.Context) {
	frame := s.frame.Add(1)
	elapsed := time.Since(s.started)

	for _, inst := range s.host.Registry().All() {
		if ctx.Err() != nil {
			return
		}
		err := s.host.Frame(inst.ID, func(surf renderer.Surface) error {
			return s.sketch.Draw(ctx, DrawContext{
				Instance: inst,
				Surface:  surf,
				Frame:    frame,
				Elapsed:  elapsed,
			})
		})
		if err != nil {
			s.logger.Error(ctx, err, "Frame failed", "id", inst.ID, "frame", frame)
		}
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Draw loop started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

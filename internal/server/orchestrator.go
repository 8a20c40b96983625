package server

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/conneroisu/fragment/internal/config"
	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/patch"
	"github.com/conneroisu/fragment/internal/preview"
	"github.com/conneroisu/fragment/internal/sketch"
	"github.com/conneroisu/fragment/internal/surface"
	"github.com/conneroisu/fragment/internal/watcher"
	"github.com/conneroisu/fragment/internal/websocket"
)

// Orchestrator wires the sketch, the preview host, the draw loop, the shader
// watcher and the browser hub together, and owns whole-sketch reloads.
type Orchestrator struct {
	config *config.Config
	host   *surface.Host
	sketch *sketch.Shader
	errors *fragerrors.CompileErrorCollector
	hub    *websocket.Manager
	logger logging.Logger

	scheduler     *surface.Scheduler
	notifications chan patch.Notification
	notifier      *watcher.Notifier
	fileWatcher   *watcher.FileWatcher

	reloadMu     sync.Mutex
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Dependencies are the services the orchestrator coordinates. Hub may be nil
// when no browser is attached, as for a one-shot export.
type Dependencies struct {
	Config *config.Config
	Host   *surface.Host
	Sketch *sketch.Shader
	Errors *fragerrors.CompileErrorCollector
	Hub    *websocket.Manager
	Logger logging.Logger
}

// NewOrchestrator validates deps and builds the scheduler and notifier.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	if deps.Config == nil || deps.Host == nil || deps.Sketch == nil {
		return nil, fmt.Errorf("orchestrator needs config, host and sketch")
	}
	if deps.Errors == nil {
		deps.Errors = fragerrors.NewCompileErrorCollector()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		config:        deps.Config,
		host:          deps.Host,
		sketch:        deps.Sketch,
		errors:        deps.Errors,
		hub:           deps.Hub,
		logger:        deps.Logger.WithComponent("orchestrator"),
		notifications: make(chan patch.Notification, 64),
		ctx:           ctx,
		cancel:        cancel,
	}
	o.scheduler = surface.NewScheduler(deps.Host, deps.Sketch, deps.Config.Sketch.FPS, deps.Logger)
	o.notifier = watcher.NewNotifier(ctx, o.notifications, o.originOf, deps.Logger)
	o.primeNotifier()

	deps.Host.Coordinator().OnRetire(func(generation uint64) {
		o.logger.Debug(o.ctx, "Generation retired", "generation", generation)
	})

	return o, nil
}

func (o *Orchestrator) originOf(path string) string {
	return sketch.OriginPath(o.config.Sketch.Entry, path)
}

func (o *Orchestrator) primeNotifier() {
	for _, st := range o.sketch.Spec().Stages {
		o.notifier.Prime(st.OriginPath, st.Source)
	}
}

// Host returns the preview host.
func (o *Orchestrator) Host() *surface.Host { return o.host }

// Scheduler returns the draw loop.
func (o *Orchestrator) Scheduler() *surface.Scheduler { return o.scheduler }

// Errors returns the compile error collector.
func (o *Orchestrator) Errors() *fragerrors.CompileErrorCollector { return o.errors }

// Notifications is where shader edits enter the patch queue. Tests and
// embedders may send on it directly.
func (o *Orchestrator) Notifications() chan<- patch.Notification { return o.notifications }

// PreviewID names the i-th preview, counting from one.
func PreviewID(i int) string { return fmt.Sprintf("preview-%d", i) }

// MountPreviews mounts sketch.previews previews of the configured backend.
func (o *Orchestrator) MountPreviews(ctx context.Context) ([]preview.Instance, error) {
	sc := o.config.Sketch
	kind := o.config.BackendKind()

	instances := make([]preview.Instance, 0, sc.Previews)
	for i := 1; i <= sc.Previews; i++ {
		inst, err := o.host.Mount(ctx, surface.MountRequest{
			ID:           PreviewID(i),
			Kind:         kind,
			Container:    "#" + PreviewID(i),
			Width:        sc.Width,
			Height:       sc.Height,
			PixelDensity: sc.PixelDensity,
		})
		if err != nil {
			return instances, fmt.Errorf("mounting %s: %w", PreviewID(i), err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Start mounts the previews and runs the draw loop, the patch feed and, with
// hot reload enabled, the shader watcher. It returns once everything is
// running; Shutdown stops it.
func (o *Orchestrator) Start(ctx context.Context) error {
	if _, err := o.MountPreviews(ctx); err != nil {
		return err
	}

	// Shader edits are announced to browsers as they enter the queue.
	feed := make(chan patch.Notification)
	o.goRun(func() {
		defer close(feed)
		for {
			select {
			case <-o.ctx.Done():
				return
			case n := <-o.notifications:
				if o.hub != nil {
					o.hub.BroadcastShaderUpdate(n.OriginPath)
				}
				select {
				case feed <- n:
				case <-o.ctx.Done():
					return
				}
			}
		}
	})
	o.goRun(func() { o.host.Coordinator().Feed(o.ctx, feed) })
	o.goRun(func() { _ = o.scheduler.Run(o.ctx) })
	o.goRun(o.forwardRegistryEvents)

	if o.config.Development.HotReload {
		if err := o.startWatcher(); err != nil {
			return err
		}
	}

	o.logger.Info(ctx, "Previews running",
		"previews", o.host.Registry().Count(),
		"backend", o.config.BackendKind().String(),
		"hot_reload", o.config.Development.HotReload)
	return nil
}

func (o *Orchestrator) goRun(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

func (o *Orchestrator) forwardRegistryEvents() {
	events := o.host.Registry().Watch()
	defer o.host.Registry().UnWatch(events)

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if o.hub != nil {
				o.hub.BroadcastPreview(ev.Type.String(), ev.Instance.ID)
			}
		}
	}
}

func (o *Orchestrator) startWatcher() error {
	wc := o.config.Watch

	fw, err := watcher.NewFileWatcher(wc.Debounce, o.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.SetRoot(o.config.Sketch.Entry); err != nil {
		_ = fw.Stop()
		return err
	}

	fw.AddFilter(watcher.ExtensionFilter(wc.Extensions...))
	fw.AddFilter(watcher.IgnoreFilter(wc.Ignore...))
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddHandler(o.notifier.Handle)

	for _, path := range wc.Paths {
		if err := fw.AddRecursive(filepath.Join(o.config.Sketch.Entry, path)); err != nil {
			o.logger.Warn(o.ctx, err, "Failed to watch path", "path", path)
		}
	}

	if err := fw.Start(o.ctx); err != nil {
		_ = fw.Stop()
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	o.fileWatcher = fw
	return nil
}

// Reload re-reads the sketch from disk and remounts every preview on fresh
// surfaces. Patches queued before the read are dropped since the new sources
// already contain them; edits arriving during the read stay queued and reach
// the remounted previews.
func (o *Orchestrator) Reload(ctx context.Context) error {
	o.reloadMu.Lock()
	defer o.reloadMu.Unlock()

	op := logging.StartOperation(o.logger, "reload")
	defer op.End(ctx)

	coord := o.host.Coordinator()
	sealed := coord.Seal()
	o.notifier.Forget()

	if err := o.sketch.Reload(); err != nil {
		return err
	}

	o.host.DestroyAll()
	coord.ResetThrough(sealed)
	o.primeNotifier()

	if _, err := o.MountPreviews(ctx); err != nil {
		return err
	}
	if o.hub != nil {
		o.hub.BroadcastSketchUpdate()
	}

	o.logger.Info(ctx, "Sketch reloaded", "origins", o.sketch.Origins())
	return nil
}

// Export draws one frame and writes every preview's snapshot to
// dir/<id>.png. It returns the written paths in preview order.
func (o *Orchestrator) Export(ctx context.Context, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fragerrors.NewIOError("EXPORT_DIR", "creating "+dir, err)
	}

	op := logging.StartOperation(o.logger, "export")
	defer op.End(ctx, "dir", dir)

	o.scheduler.Tick(ctx)

	var paths []string
	for _, inst := range o.host.Registry().All() {
		surf, ok := o.host.Surface(inst.ID)
		if !ok {
			continue
		}
		img := surf.Snapshot()
		if img == nil {
			continue
		}

		path := filepath.Join(dir, inst.ID+".png")
		if err := writePNG(path, img); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

// Shutdown stops the loop, the watcher and the feed and destroys every
// preview.
func (o *Orchestrator) Shutdown(_ context.Context) error {
	var err error
	o.shutdownOnce.Do(func() {
		o.cancel()
		if o.fileWatcher != nil {
			err = o.fileWatcher.Stop()
		}
		o.wg.Wait()
		o.host.DestroyAll()
	})
	return err
}

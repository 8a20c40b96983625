package cmd

import (
	"fmt"

	"github.com/conneroisu/fragment/internal/config"
	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/patch"
	"github.com/conneroisu/fragment/internal/renderer"
	"github.com/conneroisu/fragment/internal/server"
	"github.com/conneroisu/fragment/internal/sketch"
	"github.com/conneroisu/fragment/internal/surface"
	"github.com/conneroisu/fragment/internal/websocket"
)

// shaderCompiler compiles every program stage. Tests swap it.
var shaderCompiler renderer.Compiler = renderer.NagaCompiler{}

// app is the assembled runtime shared by serve and watch.
type app struct {
	errors *fragerrors.CompileErrorCollector
	orch   *server.Orchestrator
}

// newApp loads the sketch and wires the host, the coordinator and the error
// sinks. hub may be nil; extra sinks receive every compile report too.
func newApp(cfg *config.Config, logger logging.Logger, hub *websocket.Manager, extra ...fragerrors.Sink) (*app, error) {
	collector := fragerrors.NewCompileErrorCollector()
	sinks := fragerrors.MultiSink{collector}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	sinks = append(sinks, extra...)

	host, err := surface.NewHost(patch.NewCoordinator(logger), surface.Options{
		Sink:             sinks,
		Compiler:         shaderCompiler,
		MaxBackingPixels: cfg.Sketch.MaxBackingPixels,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create preview host: %w", err)
	}

	prog := cfg.Sketch.Program
	sk, err := sketch.Load(cfg.Sketch.Entry, sketch.ProgramFiles{
		Key:      prog.Key,
		Vertex:   prog.Vertex,
		Fragment: prog.Fragment,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load sketch: %w", err)
	}

	orch, err := server.NewOrchestrator(server.Dependencies{
		Config: cfg,
		Host:   host,
		Sketch: sk,
		Errors: collector,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{errors: collector, orch: orch}, nil
}

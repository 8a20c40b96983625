package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/server"
)

var watchCmd = &cobra.Command{
	Use:     "watch [sketch-dir]",
	Aliases: []string{"w"},
	Short:   "Hot reload shaders without serving",
	Long: `Run the previews headless and watch the sketch's shader files. Each edit
is patched into the running previews; compile errors and recoveries are
printed as they happen.

Examples:
  fragment watch                   # Watch the sketch in the current directory
  fragment watch -b software -n 2  # Two software raster previews`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var watchFlags *SketchFlags

func init() {
	rootCmd.AddCommand(watchCmd)

	watchFlags = AddSketchFlags(watchCmd, "sketch")
}

// consoleSink prints compile errors and the recovery of failing surfaces.
type consoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	failing map[string]bool
}

func (s *consoleSink) ReportCompileError(surfaceID string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[surfaceID] = true
	fmt.Fprintf(s.out, "%s %s %s\n", time.Now().Format("15:04:05"), color.RedString("✗ %s", surfaceID), err)
}

func (s *consoleSink) ClearCompileError(surfaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failing[surfaceID] {
		return
	}
	delete(s.failing, surfaceID)
	fmt.Fprintf(s.out, "%s %s\n", time.Now().Format("15:04:05"), color.GreenString("✓ %s compiles again", surfaceID))
}

func (s *consoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

var _ fragerrors.Sink = (*consoleSink)(nil)

func runWatch(cmd *cobra.Command, args []string) error {
	if err := SetViperBindings(cmd, flagBindings); err != nil {
		return err
	}
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	cfg.Development.HotReload = true

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	out := cmd.OutOrStdout()
	console := &consoleSink{out: out, failing: make(map[string]bool)}

	a, err := newApp(cfg, logger, nil, console)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.orch.Host().Coordinator().OnRetire(func(generation uint64) {
		console.printf("generation %d applied on every preview\n", generation)
	})

	if err := a.orch.Start(ctx); err != nil {
		_ = a.orch.Shutdown(ctx)
		return err
	}

	color.New(color.FgCyan, color.Bold).Fprintf(out, "Watching %s with %d %s preview(s)\n",
		cfg.Sketch.Entry, cfg.Sketch.Previews, server.BackendLabel(cfg.BackendKind()))

	<-ctx.Done()
	console.printf("stopping after %d frames\n", a.orch.Scheduler().Frames())
	return a.orch.Shutdown(ctx)
}

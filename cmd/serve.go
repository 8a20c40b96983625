package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conneroisu/fragment/internal/config"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/server"
	"github.com/conneroisu/fragment/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:     "serve [sketch-dir]",
	Aliases: []string{"s"},
	Short:   "Start the preview server with hot reload",
	Long: `Start the preview server. Every preview draws the sketch continuously;
shader edits are patched into the running previews and compile errors appear
in the browser overlay.

Examples:
  fragment serve                         # Serve the sketch in the current directory
  fragment serve ./sketches/plasma       # Serve another sketch directory
  fragment serve -b gpu -n 3             # Three GPU previews
  fragment serve --export --out-dir out  # Render one frame per preview to PNG and exit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

var (
	serveFlags  *SketchFlags
	serveExport bool
	serveOutDir string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveFlags = AddSketchFlags(serveCmd, "server", "sketch")
	serveCmd.Flags().BoolVar(&serveExport, "export", false, "Render one frame per preview to PNG and exit")
	serveCmd.Flags().StringVarP(&serveOutDir, "out-dir", "o", "dist", "Directory for exported frames")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := SetViperBindings(cmd, flagBindings); err != nil {
		return err
	}
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if serveExport {
		return runExport(ctx, cfg, logger, out, serveOutDir)
	}

	origins := websocket.LocalOrigins(cfg.Server.Host, cfg.Server.Port).
		WithOrigins(cfg.Server.AllowedOrigins...)
	hub := websocket.NewManager(origins, logger)

	a, err := newApp(cfg, logger, hub)
	if err != nil {
		_ = hub.Shutdown(context.Background())
		return err
	}

	srv := server.New(cfg, a.orch, hub, logger)
	if err := srv.Listen(); err != nil {
		_ = hub.Shutdown(context.Background())
		return fmt.Errorf("failed to start server on port %d: %w", cfg.Server.Port, err)
	}

	if err := a.orch.Start(ctx); err != nil {
		_ = srv.Shutdown(context.Background())
		_ = a.orch.Shutdown(context.Background())
		return err
	}

	printServeBanner(out, cfg, srv.URL())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		fmt.Fprintln(out, "Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return errors.Join(serveErr, srv.Shutdown(shutdownCtx), a.orch.Shutdown(shutdownCtx))
}

func printServeBanner(w io.Writer, cfg *config.Config, url string) {
	bold := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	bold.Fprintf(w, "fragment serving %s\n", cfg.Sketch.Entry)
	fmt.Fprintf(w, "  url:       %s\n", color.GreenString(url))
	fmt.Fprintf(w, "  backend:   %s\n", server.BackendLabel(cfg.BackendKind()))
	fmt.Fprintf(w, "  previews:  %d at %dx%d @%gx\n",
		cfg.Sketch.Previews, cfg.Sketch.Width, cfg.Sketch.Height, cfg.Sketch.PixelDensity)
	if cfg.Development.HotReload {
		dim.Fprintf(w, "  watching %v for %v\n", cfg.Watch.Paths, cfg.Watch.Extensions)
	}
}

// runExport renders one frame per preview and writes them as PNG.
func runExport(ctx context.Context, cfg *config.Config, logger logging.Logger, w io.Writer, dir string) error {
	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.orch.Shutdown(context.Background()) }()

	if _, err := a.orch.MountPreviews(ctx); err != nil {
		return err
	}
	paths, err := a.orch.Export(ctx, dir)
	if err != nil {
		return err
	}

	for _, p := range paths {
		fmt.Fprintf(w, "%s %s\n", color.GreenString("wrote"), p)
	}
	for _, r := range a.errors.Snapshot() {
		fmt.Fprintf(w, "%s %s: %s\n", color.RedString("error"), r.OriginPath, r.Message)
	}
	if a.errors.HasErrors() {
		return fmt.Errorf("%d preview(s) failed to compile", len(a.errors.Snapshot()))
	}
	return nil
}

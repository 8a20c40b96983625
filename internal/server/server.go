// Package server is fragment's development HTTP server. It serves the preview
// index page, each preview's latest frame as PNG, JSON status for previews,
// compile errors and the patch queue, and the websocket endpoint that pushes
// shader and error updates to the browser.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/conneroisu/fragment/internal/config"
	"github.com/conneroisu/fragment/internal/logging"
	"github.com/conneroisu/fragment/internal/version"
	"github.com/conneroisu/fragment/internal/websocket"
)

// PreviewServer serves previews with live reload.
type PreviewServer struct {
	config       *config.Config
	orchestrator *Orchestrator
	hub          *websocket.Manager
	logger       logging.Logger
	origins      websocket.HostOriginValidator

	httpServer  *http.Server
	listener    net.Listener
	serverMutex sync.RWMutex
}

// New creates a preview server over a running orchestrator. hub may be nil,
// in which case /ws is not served.
func New(cfg *config.Config, orchestrator *Orchestrator, hub *websocket.Manager, logger logging.Logger) *PreviewServer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	origins := websocket.LocalOrigins(cfg.Server.Host, cfg.Server.Port).
		WithOrigins(cfg.Server.AllowedOrigins...)

	return &PreviewServer{
		config:       cfg,
		orchestrator: orchestrator,
		hub:          hub,
		logger:       logger.WithComponent("server"),
		origins:      origins,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /overlay", s.handleOverlay)
	mux.HandleFunc("GET /api/previews", s.handlePreviews)
	mux.HandleFunc("GET /api/previews/{id}", s.handlePreview)
	mux.HandleFunc("GET /api/errors", s.handleErrors)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("GET /previews/{file}", s.handleFrame)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
	}

	return s.addMiddleware(mux)
}

// Listen binds the configured address. Port 0 picks a free port; Addr
// reports it.
func (s *PreviewServer) Listen() error {
	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serverMutex.Unlock()
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *PreviewServer) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the browser URL of the index page.
func (s *PreviewServer) URL() string {
	return "http://" + s.Addr()
}

// Start listens if needed and serves until Shutdown.
func (s *PreviewServer) Start(ctx context.Context) error {
	if s.Addr() == "" {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.serverMutex.RLock()
	server, ln := s.httpServer, s.listener
	s.serverMutex.RUnlock()

	if s.config.Server.Open {
		go s.openBrowser(s.URL())
	}

	s.logger.Info(ctx, "Preview server listening", "url", s.URL(), "version", version.GetShortVersion())

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and closes websocket clients.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		_ = s.hub.Shutdown(ctx)
	}

	s.serverMutex.RLock()
	server := s.httpServer
	s.serverMutex.RUnlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *PreviewServer) openBrowser(url string) {
	time.Sleep(100 * time.Millisecond)

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to open browser", "url", url)
	}
}

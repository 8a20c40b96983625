package server

import (
	"encoding/json"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/patch"
	"github.com/conneroisu/fragment/internal/preview"
	"github.com/conneroisu/fragment/internal/version"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Backend   string    `json:"backend"`
	Previews  int       `json:"previews"`
	Errors    int       `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// GenerationStatus is one unretired generation as reported by /api/stats.
type GenerationStatus struct {
	Number  uint64   `json:"number"`
	State   string   `json:"state"`
	Patches int      `json:"patches"`
	Origins []string `json:"origins"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Queue       patch.Stats        `json:"queue"`
	Generations []GenerationStatus `json:"generations"`
	Frames      uint64             `json:"frames"`
	Clients     int                `json:"clients"`
}

func (s *PreviewServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}

func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := indexPage(pageData{
		Backend:   s.config.BackendKind(),
		Instances: s.orchestrator.Host().Registry().All(),
		Overlay:   s.overlayHTML(),
		Version:   version.GetShortVersion(),
		Live:      s.hub != nil,
	})
	templ.Handler(page).ServeHTTP(w, r)
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	errs := s.orchestrator.Errors().Snapshot()
	status := "ok"
	if len(errs) > 0 {
		status = "degraded"
	}

	s.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   version.GetVersion(),
		Backend:   s.config.BackendKind().String(),
		Previews:  s.orchestrator.Host().Registry().Count(),
		Errors:    len(errs),
		Timestamp: time.Now(),
	})
}

func (s *PreviewServer) overlayHTML() string {
	if !s.config.Development.ErrorOverlay {
		return ""
	}
	return s.orchestrator.Errors().ErrorOverlay()
}

func (s *PreviewServer) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(s.overlayHTML()))
}

func (s *PreviewServer) handlePreviews(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.orchestrator.Host().Registry().All())
}

func (s *PreviewServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := preview.ValidateID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inst, ok := s.orchestrator.Host().Registry().Get(id)
	if !ok {
		http.Error(w, "Preview not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, r, http.StatusOK, inst)
}

func (s *PreviewServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.orchestrator.Errors().Snapshot())
}

func (s *PreviewServer) handleStats(w http.ResponseWriter, r *http.Request) {
	coord := s.orchestrator.Host().Coordinator()

	gens := coord.Generations()
	statuses := make([]GenerationStatus, 0, len(gens))
	for _, g := range gens {
		statuses = append(statuses, generationStatus(g))
	}

	resp := StatsResponse{
		Queue:       coord.Stats(),
		Generations: statuses,
		Frames:      s.orchestrator.Scheduler().Frames(),
	}
	if s.hub != nil {
		resp.Clients = s.hub.GetConnectedClients()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func generationStatus(g patch.Generation) GenerationStatus {
	seen := make(map[string]bool, len(g.Patches))
	origins := make([]string, 0, len(g.Patches))
	for _, p := range g.Patches {
		if !seen[p.OriginPath] {
			seen[p.OriginPath] = true
			origins = append(origins, p.OriginPath)
		}
	}
	return GenerationStatus{
		Number:  g.Number,
		State:   g.State.String(),
		Patches: len(g.Patches),
		Origins: origins,
	}
}

func (s *PreviewServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Reload(r.Context()); err != nil {
		s.logger.Error(r.Context(), err, "Reload failed")
		http.Error(w, "Reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.orchestrator.Host().Registry().All())
}

// handleFrame serves /previews/<id>.png, the last frame the preview presented.
func (s *PreviewServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	id, ok := strings.CutSuffix(file, ".png")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := preview.ValidateID(id); err != nil {
		s.logger.Warn(r.Context(), err, "Rejected frame request", "file", file)
		http.Error(w, "Invalid preview id", http.StatusBadRequest)
		return
	}

	surf, ok := s.orchestrator.Host().Surface(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	img := surf.Snapshot()
	if img == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		s.logger.Warn(r.Context(),
			fragerrors.NewIOError(fragerrors.ErrCodeInternalError, "encoding frame", err),
			"Failed to encode frame", "id", id)
	}
}

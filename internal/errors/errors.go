// Package errors defines fragment's error taxonomy and the compile error
// collector that backs the browser error overlay.
package errors

import (
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"
)

// CompileReport is the overlay record for one surface.
type CompileReport struct {
	SurfaceID  string    `json:"surface_id"`
	OriginPath string    `json:"origin_path,omitempty"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink receives compile errors keyed by surface identity.
type Sink interface {
	ReportCompileError(surfaceID string, err error)
	ClearCompileError(surfaceID string)
}

// CompileErrorCollector keeps the latest compile error per surface. Errors are
// cleared per surface, so one surface recovering never hides another's error.
type CompileErrorCollector struct {
	reports map[string]CompileReport
	mutex   sync.RWMutex
}

// NewCompileErrorCollector creates an empty collector.
func NewCompileErrorCollector() *CompileErrorCollector {
	return &CompileErrorCollector{
		reports: make(map[string]CompileReport),
	}
}

// ReportCompileError records err as the current error for surfaceID.
func (c *CompileErrorCollector) ReportCompileError(surfaceID string, err error) {
	if err == nil {
		return
	}

	report := CompileReport{
		SurfaceID: surfaceID,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	var fe *FragmentError
	if errors.As(err, &fe) {
		report.OriginPath = fe.OriginPath
	}

	c.mutex.Lock()
	c.reports[surfaceID] = report
	c.mutex.Unlock()
}

// ClearCompileError drops the error recorded for surfaceID, if any.
func (c *CompileErrorCollector) ClearCompileError(surfaceID string) {
	c.mutex.Lock()
	delete(c.reports, surfaceID)
	c.mutex.Unlock()
}

// Get returns the current report for surfaceID.
func (c *CompileErrorCollector) Get(surfaceID string) (CompileReport, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	r, ok := c.reports[surfaceID]
	return r, ok
}

// Snapshot returns all reports sorted by surface id.
func (c *CompileErrorCollector) Snapshot() []CompileReport {
	c.mutex.RLock()
	result := make([]CompileReport, 0, len(c.reports))
	for _, r := range c.reports {
		result = append(result, r)
	}
	c.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].SurfaceID < result[j].SurfaceID })
	return result
}

// HasErrors returns true if any surface has an outstanding compile error.
func (c *CompileErrorCollector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.reports) > 0
}

// Clear drops every report.
func (c *CompileErrorCollector) Clear() {
	c.mutex.Lock()
	c.reports = make(map[string]CompileReport)
	c.mutex.Unlock()
}

// ErrorOverlay generates the HTML overlay shown above broken previews.
func (c *CompileErrorCollector) ErrorOverlay() string {
	reports := c.Snapshot()
	if len(reports) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div id="fragment-error-overlay" style="position:fixed;inset:0;background:rgba(0,0,0,0.8);color:white;font-family:Menlo,monospace;font-size:14px;z-index:9999;padding:20px;overflow:auto;">`)
	b.WriteString(`<h2 style="margin:0 0 20px;color:#ff6b6b;">Shader Errors</h2>`)
	for _, r := range reports {
		fmt.Fprintf(&b,
			`<div style="background:#2d3748;padding:15px;margin-bottom:15px;border-left:4px solid #ff6b6b;"><div style="color:#a0aec0;font-size:12px;">%s %s</div><pre style="color:#e2e8f0;white-space:pre-wrap;">%s</pre></div>`,
			html.EscapeString(r.OriginPath),
			r.Timestamp.Format("15:04:05"),
			html.EscapeString(r.Message),
		)
	}
	b.WriteString(`</div>`)

	return b.String()
}

// MultiSink fans reports out to several sinks.
type MultiSink []Sink

// ReportCompileError forwards to every sink.
func (m MultiSink) ReportCompileError(surfaceID string, err error) {
	for _, s := range m {
		s.ReportCompileError(surfaceID, err)
	}
}

// ClearCompileError forwards to every sink.
func (m MultiSink) ClearCompileError(surfaceID string) {
	for _, s := range m {
		s.ClearCompileError(surfaceID)
	}
}

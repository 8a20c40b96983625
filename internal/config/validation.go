package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/fragment/internal/renderer"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			fmt.Fprintf(&builder, "  • %s: %s\n", issue.Field, issue.Message)
			for _, suggestion := range issue.Suggestions {
				fmt.Fprintf(&builder, "    → %s\n", suggestion)
			}
		}
	}

	write("Validation errors", vr.Errors)
	if vr.HasErrors() && vr.HasWarnings() {
		builder.WriteString("\n")
	}
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) errorf(field string, value interface{}, suggestions []string, format string, args ...interface{}) {
	vr.Errors = append(vr.Errors, ValidationError{
		Field:       field,
		Value:       value,
		Message:     fmt.Sprintf(format, args...),
		Suggestions: suggestions,
	})
}

func (vr *ValidationResult) warnf(field string, value interface{}, suggestions []string, format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, ValidationError{
		Field:       field,
		Value:       value,
		Message:     fmt.Sprintf(format, args...),
		Suggestions: suggestions,
	})
}

// ValidateConfigWithDetails runs the same checks as Load and adds warnings
// for settings that are legal but likely mistakes, such as program files that
// do not exist yet.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	if err := validateServerConfig(&config.Server); err != nil {
		result.errorf("server", config.Server, []string{
			"Use a port between 1024-65535 for non-privileged access",
			"Use 'localhost' for local development",
		}, "%v", err)
	} else if config.Server.Port > 0 && config.Server.Port < 1024 {
		result.warnf("server.port", config.Server.Port, []string{
			"Consider using a port above 1024 for development",
		}, "port below 1024 requires elevated privileges")
	}

	if err := validateSketchConfig(&config.Sketch); err != nil {
		result.errorf("sketch", config.Sketch, []string{
			"Available backends: " + strings.Join(backendNames(), ", "),
		}, "%v", err)
	} else {
		validateSketchFiles(&config.Sketch, result)
	}

	if err := validateWatchConfig(&config.Watch); err != nil {
		result.errorf("watch", config.Watch, nil, "%v", err)
	} else if len(config.Watch.Paths) == 0 {
		result.warnf("watch.paths", config.Watch.Paths, []string{
			"Add the directory holding your shaders, e.g. 'shaders'",
		}, "no watch paths; shader edits will not hot-reload")
	}

	if err := validateLogConfig(&config.Log); err != nil {
		result.errorf("log", config.Log, []string{
			"Levels: debug, info, warn, error",
		}, "%v", err)
	}

	if !config.Development.HotReload && config.Development.ErrorOverlay {
		result.warnf("development.error_overlay", true, nil,
			"error overlay only updates while hot_reload is enabled")
	}

	result.Valid = !result.HasErrors()
	return result
}

func validateSketchFiles(config *SketchConfig, result *ValidationResult) {
	files := map[string]string{"sketch.program.fragment": config.Program.Fragment}
	if config.Program.Vertex != "" {
		files["sketch.program.vertex"] = config.Program.Vertex
	}
	for field, path := range files {
		full := filepath.Join(config.Entry, path)
		if !pathExists(full) {
			result.warnf(field, path, []string{
				"Run 'fragment config init' to scaffold a starter shader",
			}, "%s does not exist", full)
		}
	}

	if kind, err := renderer.ParseKind(config.Backend); err == nil && kind == renderer.Canvas2D && config.Program.Vertex != "" {
		result.warnf("sketch.backend", config.Backend, []string{
			"Use the gpu or software backend to draw with shader programs",
		}, "2d previews do not bind shader programs")
	}
}

func backendNames() []string {
	names := make([]string, 0, len(renderer.Kinds()))
	for _, k := range renderer.Kinds() {
		names = append(names, k.String())
	}
	return names
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

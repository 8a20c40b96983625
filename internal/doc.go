// Package internal contains the core implementation packages for fragment.
//
// # Package Organization
//
//   - preview: Preview Registry of mounted instances and their containers
//   - patch: Patch Queue and Coordinator moving generations from open to retired
//   - renderer: Canvas 2D, software raster and GPU surfaces plus shader binding
//   - surface: Host that mounts, resizes and destroys surfaces, and the frame scheduler
//   - sketch: Sketch loading and shader source notifications
//   - watcher: File system monitoring with debouncing
//   - errors: Structured errors, compile error sinks and the HTML overlay
//   - server: HTTP server, orchestrator and middleware
//   - websocket: Browser client hub for live updates
//   - config, logging, version: Ambient configuration, logs and build metadata
//
// # Inter-Package Communication
//
//   - Watcher reports shader edits to sketch, which enqueues patches
//   - Coordinator feeds generations to every live surface and retires them
//   - Surfaces report compile failures to a sink keyed by surface id
//   - Server exposes previews, frames and errors and pushes updates over websocket
//
// # Concurrency
//
// Lifecycle calls on the surface host are serialised. Patch delivery and
// frame ticks run on their own goroutines and stop with the orchestrator's
// context.
package internal

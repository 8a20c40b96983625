// Package cmd provides the command-line interface for fragment.
//
// # Available Commands
//
//   - serve: Start the preview server with shader hot reload
//   - watch: Hot reload shaders headless and print compile results
//   - backends: List the renderer backends and their aliases
//   - config: Create, show and validate .fragment.yml
//   - version: Show build and dependency versions
//
// # Command Examples
//
//	// Create a sketch in the current directory
//	fragment config init
//
//	// Serve three software raster previews on a free port
//	fragment serve -b software -n 3 -p 0
//
//	// Render one PNG per preview and exit
//	fragment serve --export --out-dir dist
//
//	// Watch without a browser
//	fragment watch ./sketches/plasma
//
// # Configuration
//
// Sources in order of precedence:
//
//  1. Command-line flags (--port, --backend, etc.)
//  2. Individual environment variables (FRAGMENT_SERVER_PORT, etc.), which
//     may also come from a .env file in the working directory
//  3. The configuration file: --config, else FRAGMENT_CONFIG_FILE, else
//     .fragment.yml in the working directory
//  4. Built-in defaults
//
// Every key follows the FRAGMENT_<SECTION>_<OPTION> pattern, for example
// FRAGMENT_SKETCH_BACKEND or FRAGMENT_DEVELOPMENT_HOT_RELOAD.
//
// # Error Handling
//
// Commands return errors to Execute, which main turns into a non-zero exit.
// serve and watch stop cleanly on SIGINT and SIGTERM.
package cmd

package websocket

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Message types sent to the browser.
const (
	MessageCompileError = "compile-error"
	MessageCompileClear = "compile-clear"
	MessageShaderUpdate = "shader-update"
	MessageSketchUpdate = "sketch-update"
	MessagePreview      = "preview"
)

// Client represents a WebSocket client connection
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	remoteAddr   string
	lastActivity time.Time
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OriginValidator decides which browser origins may connect.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// HostOriginValidator accepts origins whose host:port is in Hosts. An empty
// origin is a same-origin request and is accepted.
type HostOriginValidator struct {
	Hosts []string
}

// LocalOrigins allows the loopback names for port.
func LocalOrigins(host string, port int) HostOriginValidator {
	hosts := []string{
		fmt.Sprintf("localhost:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port),
	}
	if host != "" && host != "localhost" && host != "127.0.0.1" {
		hosts = append(hosts, fmt.Sprintf("%s:%d", host, port))
	}
	return HostOriginValidator{Hosts: hosts}
}

// WithOrigins returns v extended with the host of each origin URL. Entries
// that do not parse as http(s) URLs are skipped.
func (v HostOriginValidator) WithOrigins(origins ...string) HostOriginValidator {
	hosts := append([]string(nil), v.Hosts...)
	for _, o := range origins {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return HostOriginValidator{Hosts: hosts}
}

// IsAllowedOrigin implements OriginValidator.
func (v HostOriginValidator) IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	for _, h := range v.Hosts {
		if u.Host == h {
			return true
		}
	}
	return false
}

// Package websocket pushes preview events to connected browsers: compile
// errors and their recovery, shader updates and sketch reloads.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	fragerrors "github.com/conneroisu/fragment/internal/errors"
	"github.com/conneroisu/fragment/internal/logging"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
)

// Manager handles WebSocket connection management and broadcasting. It runs a
// single hub goroutine that owns registration and fan-out. Manager is also a
// fragerrors.Sink, so compile errors reach the browser overlay as they happen.
type Manager struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdownMu   sync.RWMutex
	isShutdown   bool
}

var _ fragerrors.Sink = (*Manager)(nil)

// NewManager starts the hub. A nil validator only accepts same-origin
// requests.
func NewManager(originValidator OriginValidator, logger logging.Logger) *Manager {
	if originValidator == nil {
		originValidator = HostOriginValidator{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		clients:         make(map[*websocket.Conn]*Client),
		broadcast:       make(chan []byte, 256),
		register:        make(chan *Client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: originValidator,
		logger:          logger.WithComponent("websocket"),
		ctx:             ctx,
		cancel:          cancel,
	}

	go manager.runHub()

	return manager
}

// HandleWebSocket upgrades the request and registers the client.
func (wm *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if wm.IsShutdown() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if !wm.originValidator.IsAllowedOrigin(origin) {
		wm.logger.Warn(r.Context(), nil, "WebSocket connection rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was checked above.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		wm.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, 256),
		remoteAddr:   r.RemoteAddr,
		lastActivity: time.Now(),
	}

	select {
	case wm.register <- client:
	case <-wm.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
		_ = conn.Close(websocket.StatusTryAgainLater, "Server busy")
		return
	}

	go wm.handleClient(client)
}

func (wm *Manager) runHub() {
	for {
		select {
		case client := <-wm.register:
			wm.registerClient(client)

		case conn := <-wm.unregister:
			wm.unregisterClient(conn)

		case message := <-wm.broadcast:
			wm.broadcastToClients(message)

		case <-wm.ctx.Done():
			return
		}
	}
}

func (wm *Manager) registerClient(client *Client) {
	wm.clientsMutex.Lock()
	wm.clients[client.conn] = client
	total := len(wm.clients)
	wm.clientsMutex.Unlock()

	wm.logger.Debug(wm.ctx, "WebSocket client connected", "remote", client.remoteAddr, "clients", total)
}

func (wm *Manager) unregisterClient(conn *websocket.Conn) {
	wm.clientsMutex.Lock()
	client, exists := wm.clients[conn]
	if exists {
		delete(wm.clients, conn)
		close(client.send)
	}
	total := len(wm.clients)
	wm.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		wm.logger.Debug(wm.ctx, "WebSocket client disconnected", "remote", client.remoteAddr, "clients", total)
	}
}

func (wm *Manager) broadcastToClients(message []byte) {
	// Sends happen under the read lock so a concurrent close cannot race them.
	wm.clientsMutex.RLock()
	defer wm.clientsMutex.RUnlock()

	for _, client := range wm.clients {
		select {
		case client.send <- message:
		default:
			// Slow client; drop it rather than stall the hub.
			go func(c *Client) {
				select {
				case wm.unregister <- c.conn:
				case <-wm.ctx.Done():
				}
			}(client)
		}
	}
}

func (wm *Manager) handleClient(client *Client) {
	defer func() {
		select {
		case wm.unregister <- client.conn:
		case <-wm.ctx.Done():
		}
	}()

	go wm.writeToClient(client)
	wm.readFromClient(client)
}

func (wm *Manager) readFromClient(client *Client) {
	for {
		ctx, cancel := context.WithTimeout(wm.ctx, readTimeout)
		_, message, err := client.conn.Read(ctx)
		cancel()

		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway &&
				!errors.Is(err, context.Canceled) {
				wm.logger.Debug(wm.ctx, "WebSocket read ended", "remote", client.remoteAddr, "error", err.Error())
			}
			return
		}

		client.lastActivity = time.Now()
		wm.logger.Debug(wm.ctx, "Received WebSocket message", "remote", client.remoteAddr, "bytes", len(message))
	}
}

func (wm *Manager) writeToClient(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				wm.logger.Debug(wm.ctx, "WebSocket write failed", "remote", client.remoteAddr, "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()

			if err != nil {
				return
			}

		case <-wm.ctx.Done():
			return
		}
	}
}

// BroadcastMessage sends a message to all connected clients. It never blocks;
// a message is dropped if the hub is backed up or shut down.
func (wm *Manager) BroadcastMessage(message UpdateMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		wm.logger.Error(wm.ctx, err, "Failed to marshal broadcast message", "type", message.Type)
		return
	}

	wm.shutdownMu.RLock()
	defer wm.shutdownMu.RUnlock()
	if wm.isShutdown {
		return
	}

	select {
	case wm.broadcast <- data:
	default:
		wm.logger.Warn(wm.ctx, nil, "Broadcast channel full, dropping message", "type", message.Type)
	}
}

// ReportCompileError implements fragerrors.Sink.
func (wm *Manager) ReportCompileError(surfaceID string, err error) {
	if err == nil {
		return
	}
	msg := UpdateMessage{
		Type:    MessageCompileError,
		Target:  surfaceID,
		Content: err.Error(),
	}
	var fe *fragerrors.FragmentError
	if errors.As(err, &fe) {
		msg.Origin = fe.OriginPath
	}
	wm.BroadcastMessage(msg)
}

// ClearCompileError implements fragerrors.Sink.
func (wm *Manager) ClearCompileError(surfaceID string) {
	wm.BroadcastMessage(UpdateMessage{Type: MessageCompileClear, Target: surfaceID})
}

// BroadcastShaderUpdate tells browsers an origin was patched.
func (wm *Manager) BroadcastShaderUpdate(origin string) {
	wm.BroadcastMessage(UpdateMessage{Type: MessageShaderUpdate, Origin: origin})
}

// BroadcastSketchUpdate tells browsers the sketch was reloaded and previews
// were remounted.
func (wm *Manager) BroadcastSketchUpdate() {
	wm.BroadcastMessage(UpdateMessage{Type: MessageSketchUpdate})
}

// BroadcastPreview tells browsers a preview was mounted, resized or destroyed.
func (wm *Manager) BroadcastPreview(event, instanceID string) {
	wm.BroadcastMessage(UpdateMessage{Type: MessagePreview, Target: instanceID, Content: event})
}

// GetConnectedClients returns the number of connected clients
func (wm *Manager) GetConnectedClients() int {
	wm.clientsMutex.RLock()
	defer wm.clientsMutex.RUnlock()
	return len(wm.clients)
}

// Shutdown closes every connection and stops the hub.
func (wm *Manager) Shutdown(_ context.Context) error {
	wm.shutdownOnce.Do(func() {
		wm.shutdownMu.Lock()
		wm.isShutdown = true
		wm.shutdownMu.Unlock()

		wm.cancel()

		wm.clientsMutex.Lock()
		for conn, client := range wm.clients {
			close(client.send)
			_ = conn.Close(websocket.StatusNormalClosure, "Server shutdown")
		}
		wm.clients = make(map[*websocket.Conn]*Client)
		wm.clientsMutex.Unlock()

		wm.logger.Info(context.Background(), "WebSocket manager shut down")
	})

	return nil
}

// IsShutdown returns whether the manager has been shut down
func (wm *Manager) IsShutdown() bool {
	wm.shutdownMu.RLock()
	defer wm.shutdownMu.RUnlock()
	return wm.isShutdown
}

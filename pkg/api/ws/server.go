// Package ws streams the traffic log over WebSocket: clients subscribe
// to a connection and receive every recorded frame as it happens.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mouliraj56/webSerial-modbus/pkg/core"
	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/traffic"
)

// ServerConfig holds WebSocket server configuration.
type ServerConfig struct {
	// Port is the WebSocket server port.
	Port int `yaml:"port" json:"port"`

	// Path is the WebSocket endpoint path.
	Path string `yaml:"path" json:"path"`

	// PingInterval is the ping interval for keepalive.
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`

	// WriteTimeout is the write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8081,
		Path:           "/ws",
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Message types.
const (
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypeStatus      = "status"
	MsgTypeEntry       = "entry"
	MsgTypeError       = "error"
	MsgTypeAck         = "ack"
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Connection string          `json:"connection,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Server is the WebSocket streaming server.
type Server struct {
	mu       sync.RWMutex
	manager  *core.Manager
	config   ServerConfig
	log      *logger.Logger
	upgrader websocket.Upgrader
	clients  map[*Client]bool
	taps     map[string]*tap
	running  bool
	server   *http.Server
}

// Client represents a WebSocket client.
type Client struct {
	conn       *websocket.Conn
	server     *Server
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
	closed     bool
}

// tap forwards one connection's traffic entries into the server. It
// implements traffic.Subscriber.
type tap struct {
	server     *Server
	connection string
}

func (t *tap) OnEntry(e traffic.Entry) {
	t.server.broadcastEntry(t.connection, e)
}

// NewServer creates a new WebSocket server.
func NewServer(manager *core.Manager, config ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	return &Server{
		manager: manager,
		config:  config,
		log:     log,
		clients: make(map[*Client]bool),
		taps:    make(map[string]*tap),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(config.AllowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range config.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Start starts the WebSocket server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("websocket server error", "error", err)
		}
	}()

	s.running = true
	s.log.Info("websocket server listening", "port", s.config.Port, "path", s.config.Path)
	return nil
}

// Stop stops the WebSocket server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	for name, t := range s.taps {
		if sess, err := s.manager.Session(name); err == nil {
			sess.TrafficLog().Unsubscribe(t)
		}
	}
	s.taps = make(map[string]*tap)

	for client := range s.clients {
		client.conn.Close()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.running = false
	return nil
}

// handleWebSocket handles WebSocket upgrade and client connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		conn:       conn,
		server:     s,
		send:       make(chan []byte, 256),
		subscribed: make(map[string]bool),
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// ensureTap subscribes the server to a connection's traffic log, once.
// Caller must not hold s.mu.
func (s *Server) ensureTap(name string) error {
	s.mu.Lock()
	if _, ok := s.taps[name]; ok {
		s.mu.Unlock()
		return nil
	}
	t := &tap{server: s, connection: name}
	s.taps[name] = t
	s.mu.Unlock()

	sess, err := s.manager.Session(name)
	if err != nil {
		s.mu.Lock()
		delete(s.taps, name)
		s.mu.Unlock()
		return err
	}
	sess.TrafficLog().Subscribe(t)
	return nil
}

// broadcastEntry sends a traffic entry to every client subscribed to
// the connection. Slow clients are dropped rather than allowed to
// stall the bus.
func (s *Server) broadcastEntry(connection string, e traffic.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	msg, _ := json.Marshal(WSMessage{
		Type:       MsgTypeEntry,
		Connection: connection,
		Data:       data,
	})

	s.mu.RLock()
	var stale []*Client
	for client := range s.clients {
		client.mu.RLock()
		subscribed := client.subscribed[connection]
		client.mu.RUnlock()
		if !subscribed {
			continue
		}
		if !client.trySend(msg) {
			stale = append(stale, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range stale {
		s.removeClient(client)
	}
}

// removeClient removes a client. The closed flag is raised under the
// client's lock before the send channel closes, so concurrent trySend
// calls from the read pump or a broadcast can never hit a closed channel.
func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.mu.Lock()
		client.closed = true
		client.mu.Unlock()
		close(client.send)
	}
}

// trySend enqueues a message for the write pump. It reports false only
// when the client's buffer is full; a client already being torn down
// swallows the message instead.
func (c *Client) trySend(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump reads messages from the client.
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(&msg)
	}
}

// writePump writes messages to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles an incoming message.
func (c *Client) handleMessage(msg *WSMessage) {
	switch msg.Type {
	case MsgTypeSubscribe:
		c.handleSubscribe(msg)
	case MsgTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case MsgTypeStatus:
		c.handleStatus(msg)
	default:
		c.sendError(msg.ID, "unknown message type")
	}
}

// handleSubscribe handles subscribe requests.
func (c *Client) handleSubscribe(msg *WSMessage) {
	if msg.Connection == "" {
		c.sendError(msg.ID, "connection required")
		return
	}

	if err := c.server.ensureTap(msg.Connection); err != nil {
		c.sendError(msg.ID, "connection not found")
		return
	}

	c.mu.Lock()
	c.subscribed[msg.Connection] = true
	c.mu.Unlock()

	c.sendAck(msg.ID, "subscribed")
}

// handleUnsubscribe handles unsubscribe requests.
func (c *Client) handleUnsubscribe(msg *WSMessage) {
	c.mu.Lock()
	delete(c.subscribed, msg.Connection)
	c.mu.Unlock()

	c.sendAck(msg.ID, "unsubscribed")
}

// handleStatus handles status requests.
func (c *Client) handleStatus(msg *WSMessage) {
	data, _ := json.Marshal(c.server.manager.Sessions())

	response := WSMessage{
		Type: MsgTypeStatus,
		ID:   msg.ID,
		Data: data,
	}

	respBytes, _ := json.Marshal(response)
	c.trySend(respBytes)
}

// sendError sends an error message.
func (c *Client) sendError(id, errMsg string) {
	msg := WSMessage{
		Type:  MsgTypeError,
		ID:    id,
		Error: errMsg,
	}
	msgBytes, _ := json.Marshal(msg)
	c.trySend(msgBytes)
}

// sendAck sends an acknowledgment.
func (c *Client) sendAck(id, message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	msg := WSMessage{
		Type: MsgTypeAck,
		ID:   id,
		Data: data,
	}
	msgBytes, _ := json.Marshal(msg)
	c.trySend(msgBytes)
}

package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mouliraj56/webSerial-modbus/pkg/config"
	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/traffic"
	"github.com/mouliraj56/webSerial-modbus/pkg/traffic/sqlite"
	"github.com/mouliraj56/webSerial-modbus/pkg/transport/serial"
)

// Manager errors.
var (
	ErrManagerNotStarted = errors.New("manager not started")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrNoArchive         = errors.New("no traffic archive configured")
)

// Manager owns the sessions of a topology document: one per configured
// connection, each on its own serial port.
type Manager struct {
	mu sync.RWMutex

	doc *config.Document
	log *logger.Logger

	sessions map[string]*Session
	archive  *sqlite.Store
	started  bool
}

// NewManager builds sessions for every connection in the document. No
// ports are opened until Start.
func NewManager(doc *config.Document, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Global()
	}

	m := &Manager{
		doc:      doc,
		log:      log,
		sessions: make(map[string]*Session),
	}

	capacity := doc.Traffic.Capacity
	if capacity <= 0 {
		capacity = traffic.DefaultCapacity
	}

	for _, conn := range doc.Connections {
		if _, ok := m.sessions[conn.Name]; ok {
			return nil, fmt.Errorf("duplicate connection name %q", conn.Name)
		}
		tr := serial.New(conn.Serial)
		sess, err := NewSession(conn, tr, traffic.NewLog(capacity), log)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", conn.Name, err)
		}
		m.sessions[conn.Name] = sess
	}

	return m, nil
}

// Start opens the traffic archive, if configured, and starts every
// session. A connection that fails to open is logged and skipped so one
// unplugged adapter does not take the whole service down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	if m.doc.Traffic.Archive != "" {
		store, err := sqlite.NewStore(m.doc.Traffic.Archive)
		if err != nil {
			return fmt.Errorf("open traffic archive: %w", err)
		}
		m.archive = store
	}

	for name, sess := range m.sessions {
		if err := sess.Start(ctx); err != nil {
			m.log.Error("failed to start session", "connection", name, "error", err)
		}
	}

	m.started = true
	m.log.Info("manager started", "sessions", len(m.sessions))
	return nil
}

// Stop closes every session and the traffic archive.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	var firstErr error
	for name, sess := range m.sessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", name, err)
		}
	}

	if m.archive != nil {
		if err := m.archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.archive = nil
	}

	m.started = false
	m.log.Info("manager stopped")
	return firstErr
}

// AddSession registers a session created outside the topology document,
// for example for an ad-hoc connection. The caller starts it.
func (m *Manager) AddSession(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, sess.Name())
	}
	m.sessions[sess.Name()] = sess
	return nil
}

// Session looks up a session by connection name.
func (m *Manager) Session(name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return sess, nil
}

// Sessions returns the status of every session.
func (m *Manager) Sessions() []SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionStatus, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Status())
	}
	return out
}

// ArchiveTraffic exports a session's traffic log into the SQLite
// archive.
func (m *Manager) ArchiveTraffic(name string) error {
	m.mu.RLock()
	store := m.archive
	sess, ok := m.sessions[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	if store == nil {
		return ErrNoArchive
	}
	return store.Archive(sess.ExportTraffic())
}

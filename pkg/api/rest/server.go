// Package rest exposes the sessions over an HTTP API: status, on-demand
// reads and writes, poll control and traffic log access.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mouliraj56/webSerial-modbus/pkg/core"
	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
)

// Server is the REST API server.
type Server struct {
	manager *core.Manager
	log     *logger.Logger
	srv     *http.Server
	config  ServerConfig
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Port int
}

// NewServer creates a new REST API server.
func NewServer(manager *core.Manager, config ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}
	return &Server{
		manager: manager,
		config:  config,
		log:     log,
	}
}

// Start starts the API server.
func (s *Server) Start() error {
	r := mux.NewRouter()
	s.registerRoutes(r)

	addr := fmt.Sprintf(":%d", s.config.Port)
	if s.config.Port == 0 {
		addr = ":8080"
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("api server listening", "addr", addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Connections
	conn := v1.PathPrefix("/connections/{name}").Subrouter()
	conn.HandleFunc("/test", s.handleTestConnection).Methods("POST")
	conn.HandleFunc("/write", s.handleWrite).Methods("POST")

	// Register groups
	conn.HandleFunc("/groups/{group}/read", s.handleReadGroup).Methods("POST")
	conn.HandleFunc("/groups/{group}/values", s.handleValues).Methods("GET")
	conn.HandleFunc("/groups/{group}/poll", s.handleStartPolling).Methods("POST")
	conn.HandleFunc("/groups/{group}/poll", s.handleStopPolling).Methods("DELETE")

	// Traffic log
	conn.HandleFunc("/traffic", s.handleTrafficExport).Methods("GET")
	conn.HandleFunc("/traffic/pause", s.handleTrafficPause).Methods("POST")
	conn.HandleFunc("/traffic/resume", s.handleTrafficResume).Methods("POST")
	conn.HandleFunc("/traffic/archive", s.handleTrafficArchive).Methods("POST")
}

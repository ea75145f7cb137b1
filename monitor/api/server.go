// Package api serves the dashboard REST endpoints over the stored runs and
// a websocket live stream of collector samples.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/perfscope/monitor/storage"
	"github.com/perfscope/monitor/types"
)

// LiveFeed provides live collector samples to websocket clients.
// A nil feed disables the live endpoint.
type LiveFeed interface {
	Subscribe() (<-chan types.Sample, func())
}

// Server exposes the dashboard API.
type Server struct {
	addr       string
	store      storage.Store
	feed       LiveFeed
	log        logrus.FieldLogger
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates an API server. feed may be nil when no collector is
// running in this process.
func NewServer(addr string, store storage.Store, feed LiveFeed, log logrus.FieldLogger) *Server {
	return &Server{
		addr:  addr,
		store: store,
		feed:  feed,
		log:   log.WithField("component", "api-server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start begins serving. It blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.WithField("addr", s.addr).Info("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithError(err).Error("Failed to shutdown API server gracefully")
		return err
	}

	s.log.Info("API server stopped")
	return nil
}

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures all HTTP routes and middleware.
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.enableCORS)
	router.Use(s.loggingMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/runs", s.handleListRuns).Methods("GET", "OPTIONS")
	api.HandleFunc("/runs/{runId}", s.handleGetRun).Methods("GET", "OPTIONS")
	api.HandleFunc("/runs/{runId}", s.handleDeleteRun).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/runs/{runId}/summary", s.handleGetRunSummary).Methods("GET", "OPTIONS")
	api.HandleFunc("/runs/{runId}/metrics/{kind}", s.handleGetRunMetrics).Methods("GET", "OPTIONS")
	api.HandleFunc("/runs/{runId}/compare/{otherRunId}", s.handleCompareRuns).Methods("GET", "OPTIONS")

	api.HandleFunc("/ws", s.handleWebSocket)
	api.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// enableCORS allows the dashboard frontend to call from any origin.
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request with duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

// Package server exposes an AIP dispatcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-interchange/aip-go/internal/config"
	"github.com/agent-interchange/aip-go/internal/host"
	"github.com/agent-interchange/aip-go/internal/protocol"
	"github.com/agent-interchange/aip-go/internal/trust"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/tidwall/gjson"
)

// ManifestPath is the well-known location of the agent manifest.
const ManifestPath = "/.well-known/aip-manifest.json"

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID returns the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Server is the HTTP surface of one AIP agent.
type Server struct {
	config     *config.Config
	manifest   protocol.Manifest
	registry   *host.Registry
	dispatcher *host.Dispatcher
	keyring    *trust.Keyring
	mux        *http.ServeMux
	handler    http.Handler
	logger     *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default stdout logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithKeyring makes the dispatcher reject envelopes whose signature does not
// verify against the sender's key in k.
func WithKeyring(k *trust.Keyring) Option {
	return func(s *Server) { s.keyring = k }
}

// New creates a Server for manifest, dispatching task requests to the
// handlers in registry. The registry is sealed: no handler can be added once
// the server exists.
func New(cfg *config.Config, manifest protocol.Manifest, registry *host.Registry, opts ...Option) *Server {
	s := &Server{
		config:   cfg,
		manifest: manifest,
		registry: registry,
		mux:      http.NewServeMux(),
		logger:   log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmsgprefix),
	}
	for _, opt := range opts {
		opt(s)
	}
	registry.Seal()

	dopts := []host.Option{host.WithLogger(s.logger), host.WithDebug(cfg.Debug())}
	if s.keyring != nil {
		dopts = append(dopts, host.WithKeyring(s.keyring))
	}
	s.dispatcher = host.NewDispatcher(manifest.Agent.ID, registry, dopts...)

	s.setupRoutes()
	s.handler = s.mux
	if len(cfg.CORSOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		}).Handler(s.mux)
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET "+ManifestPath, s.handleManifest)
	s.mux.HandleFunc("POST /aip", s.withMiddleware(s.handleMessage))
	s.mux.HandleFunc("POST /{$}", s.withMiddleware(s.handleMessage))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Manifest returns the manifest served by this server.
func (s *Server) Manifest() protocol.Manifest { return s.manifest }

// Run starts the server and shuts it down gracefully on SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.ListenAndServe(ctx)
}

// ListenAndServe serves on the configured port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.config.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting on %s (agent=%s, capabilities=%v)", addr, s.manifest.Agent.ID, s.registry.Capabilities())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manifest)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	if !gjson.ValidBytes(body) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	if !protocol.ValidateShape(body) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid envelope"))
		return
	}
	env, err := protocol.Unmarshal(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid envelope: "+err.Error()))
		return
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), env)
	if err != nil {
		s.logger.Printf("Dispatch failed [%s]: %v", RequestID(r.Context()), err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
		return
	}
	data, err := resp.Marshal()
	if err != nil {
		s.logger.Printf("Encode response failed [%s]: %v", RequestID(r.Context()), err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// withMiddleware wraps a handler with request ID, body limit, logging, and recovery.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Panic recovery
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("PANIC: %v", rec)
				writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
			}
		}()

		// Request ID
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)

		if s.config.MaxBodySize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
		}

		// Logging
		start := time.Now()
		s.logger.Printf("-> %s %s [%s]", r.Method, r.URL.Path, reqID)
		next(w, r.WithContext(ctx))
		s.logger.Printf("<- %s %s [%s] %v", r.Method, r.URL.Path, reqID, time.Since(start))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

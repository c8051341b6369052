// Package api implements Scout's HTTP gateway: the Warden query
// contract, a simple ask endpoint, OpenAI-compatible chat completions,
// the Vercel AI data-stream chat endpoint, and read-only introspection.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/web3scout/scout/internal/agent"
	"github.com/web3scout/scout/internal/buildinfo"
	"github.com/web3scout/scout/internal/events"
	"github.com/web3scout/scout/internal/llm"
	"github.com/web3scout/scout/internal/memory"
	"github.com/web3scout/scout/internal/prompts"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// streamWriteTimeout is the write deadline, extended after every streamed
// event so long tool loops do not trip the server's WriteTimeout.
const streamWriteTimeout = 120 * time.Second

// modelAlias names the configured default model to API clients.
const modelAlias = "scout"

// Agent is the reasoning loop as the gateway uses it.
type Agent interface {
	Run(ctx context.Context, req *agent.Request, stream llm.StreamCallback) (*agent.Response, error)
	History(ctx context.Context, threadID string) ([]memory.Message, error)
	Stats() agent.StatsSnapshot
	Model() string
}

// StoreStats reports conversation store counters.
type StoreStats interface {
	Stats(ctx context.Context) (map[string]any, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	agent    Agent
	bus      *events.Bus
	store    StoreStats
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer creates a new API server. bus may be nil.
func NewServer(address string, port int, a Agent, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		agent:   a,
		bus:     bus,
		logger:  logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is read-only introspection for local dashboards.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// SetStoreStats adds conversation store counters to /v1/session/stats.
func (s *Server) SetStoreStats(st StoreStats) {
	s.store = st
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Warden contract and health
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /{$}", s.handleWardenQuery)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Chat
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /api/chat", s.handleDataStreamChat)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)

	// Introspection
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleThread)
	mux.HandleFunc("GET /v1/session/stats", s.handleSessionStats)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      streamWriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for logging. It passes
// through Flush and Hijack so streaming and WebSocket upgrades work.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		elapsed := s.now().Sub(start)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
		s.bus.Emit(events.SourceGateway, events.KindHTTPRequest, map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
		})
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "scout",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": modelAlias, "object": "model", "created": s.now().Unix(), "owned_by": "scout"},
			{"id": s.agent.Model(), "object": "model", "created": s.now().Unix(), "owned_by": "scout"},
		},
	}, s.logger)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.agent.History(r.Context(), id)
	if err != nil {
		s.logger.Error("load thread failed", "thread_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load thread")
		return
	}
	if len(msgs) == 0 {
		s.errorResponse(w, http.StatusNotFound, "thread not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"thread_id": id,
		"count":     len(msgs),
		"messages":  msgs,
	}, s.logger)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"session":        s.agent.Stats(),
		"uptime_seconds": int64(buildinfo.Uptime().Seconds()),
		"build":          buildinfo.BuildInfo(),
	}
	if s.bus != nil {
		out["events"] = map[string]any{
			"subscribers": s.bus.SubscriberCount(),
			"dropped":     s.bus.Dropped(),
		}
	}
	if s.store != nil {
		st, err := s.store.Stats(r.Context())
		if err != nil {
			s.logger.Warn("store stats failed", "error", err)
		} else {
			out["store"] = st
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

// decodeBody decodes a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// runFailed maps a failed run to a response. Internal error text is
// logged, never returned.
func (s *Server) runFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		s.errorResponse(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, llm.ErrModelUnavailable):
		s.logger.Error("model unavailable", "error", err)
		s.errorResponse(w, http.StatusBadGateway, prompts.ModelUnavailableMessage)
	case r.Context().Err() != nil:
		s.logger.Debug("client went away during run", "error", err)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("run timed out", "error", err)
		s.errorResponse(w, http.StatusGatewayTimeout, publicError(err))
	default:
		s.logger.Error("agent run failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

// publicError is the caller-facing text for a failed run.
func publicError(err error) string {
	switch {
	case errors.Is(err, llm.ErrModelUnavailable):
		return prompts.ModelUnavailableMessage
	case errors.Is(err, context.DeadlineExceeded):
		return "the request took too long; please try a narrower question"
	}
	return "internal error"
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	errType := "invalid_request_error"
	if code >= 500 {
		errType = "server_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	}, s.logger)
}

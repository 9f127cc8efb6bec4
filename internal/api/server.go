// Package api exposes the completion service over HTTP and SSE.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragcore/ragcore/internal/chat"
	"github.com/ragcore/ragcore/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator *chat.Orchestrator // Required
	Pool         *pgxpool.Pool      // Optional: nil disables database readiness checks
	CORSOrigins  []string           // Allowed origins for CORS
	TrustProxy   bool               // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst    int                // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON/SSE HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		orchestrator: cfg.Orchestrator,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/completions", ch.completions)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Tracing → Logging → CORS → RateLimit →
	//   Identity → Routes
	// RequestID must precede Tracing and Logging so request_id is
	// available on spans and log attributes. CORS must precede RateLimit
	// so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = identityMiddleware()(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = tracingMiddleware()(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", health(logger))
	topMux.HandleFunc("GET /readyz", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Package api implements the HTTP surface over gorilla/mux: health/status,
// accumulator read/update, enroll/revoke, the authentication handshake,
// witness lookups, and a supplemental SSE accumulator stream. It is a
// thin translation layer only — every invariant lives in gateway.Gateway;
// this package's job is wire-format marshalling, admin auth, rate
// limiting, and mapping gwerrors.Kind to an HTTP status.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/r3labs/sse"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/meshguard/accumulator-gateway/chain"
	"github.com/meshguard/accumulator-gateway/crypto/accumulator"
	"github.com/meshguard/accumulator-gateway/gateway"
	"github.com/meshguard/accumulator-gateway/ratelimit"
)

var log = logrus.WithField("prefix", "api")

const sseStreamID = "accumulator"

// Server is the HTTP front door. It is built with a New(...).With*(...)
// option-chaining convention over this package's own concerns (router,
// CORS origins, admin secret, limiter).
type Server struct {
	ctx     context.Context
	address string

	router     *mux.Router
	httpServer *http.Server

	gw        *gateway.Gateway
	store     gateway.Store
	chain     *chain.Client
	pubParams *accumulator.Params // Lambda always nil here; Verify-only

	allowedOrigins []string
	adminSecret    []byte
	limiter        *ratelimit.Limiter

	sse *sse.Server
}

// New constructs a Server. pubParams must never carry a non-nil Lambda —
// the API process boundary is exactly the place the trapdoor must never
// reach. limits configures the rate limiter; pass ratelimit.DefaultLimits()
// for the conservative built-in defaults.
func New(ctx context.Context, gw *gateway.Gateway, store gateway.Store, chainClient *chain.Client, pubParams *accumulator.Params, address string, limits ratelimit.Limits) *Server {
	sseServer := sse.New()
	sseServer.CreateStream(sseStreamID)
	return &Server{
		ctx:       ctx,
		address:   address,
		gw:        gw,
		store:     store,
		chain:     chainClient,
		pubParams: pubParams,
		limiter:   ratelimit.New(limits),
		sse:       sseServer,
	}
}

// WithRouter overrides the default mux.Router, useful for tests that want
// to inspect routes.
func (s *Server) WithRouter(r *mux.Router) *Server {
	s.router = r
	return s
}

// WithAllowedOrigins sets the CORS allow-list; an empty list is
// "same-origin only".
func (s *Server) WithAllowedOrigins(origins []string) *Server {
	s.allowedOrigins = origins
	return s
}

// WithAdminSecret sets the shared secret compared in constant time against
// the admin auth header.
func (s *Server) WithAdminSecret(secret []byte) *Server {
	s.adminSecret = secret
	return s
}

// WithRateLimiter overrides the default Limiter (tests use this to install
// one with near-zero limits to exercise the 429 path deterministically).
func (s *Server) WithRateLimiter(l *ratelimit.Limiter) *Server {
	s.limiter = l
	return s
}

// handler wires every route and middleware into the root mux.Router
// (created on first use) and returns it, so tests can call it directly
// without going through Start. Each call registers the routes again on
// the same router.
func (s *Server) handler() http.Handler {
	if s.router == nil {
		s.router = mux.NewRouter()
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, newRequestID(), errNotFound)
	})
	s.registerRoutes(s.router)

	handler := http.Handler(s.router)
	handler = cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", adminSecretHeader},
	}).Handler(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/accumulator", s.handleAccumulatorRead).Methods(http.MethodGet)
	r.HandleFunc("/accumulator/update", s.requireAdmin(s.handleAccumulatorUpdate)).Methods(http.MethodPost)
	r.HandleFunc("/accumulator/stream", s.handleAccumulatorStream).Methods(http.MethodGet)
	r.HandleFunc("/enroll", s.requireAdmin(s.handleEnroll)).Methods(http.MethodPost)
	r.HandleFunc("/revoke", s.requireAdmin(s.handleRevoke)).Methods(http.MethodPost)
	r.HandleFunc("/auth/start", s.rateLimited(s.handleAuthStart)).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", s.rateLimited(s.handleAuthVerify)).Methods(http.MethodPost)
	r.HandleFunc("/witness", s.handleWitness).Methods(http.MethodPost)
}

// Start begins serving in a background goroutine, leaving it to Stop to
// report any shutdown error.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("address", s.address).Info("Starting API server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("API server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(s.ctx)
}

// PublishRootUpdate pushes a commitment update onto the SSE stream
// (GET /accumulator/stream). The gateway's event-tailing loop
// (cmd/gateway) calls this after every confirmed mutation.
func (s *Server) PublishRootUpdate(rootHex string, version uint64) {
	body, err := marshalJSON(rootUpdateEvent{RootHex: rootHex, Version: version})
	if err != nil {
		log.WithError(err).Warn("failed to marshal accumulator stream event")
		return
	}
	s.sse.Publish(sseStreamID, &sse.Event{Data: body})
}

type rootUpdateEvent struct {
	RootHex string `json:"rootHex"`
	Version uint64 `json:"version"`
}

func (s *Server) handleAccumulatorStream(w http.ResponseWriter, r *http.Request) {
	r = r.Clone(r.Context())
	q := r.URL.Query()
	q.Set("stream", sseStreamID)
	r.URL.RawQuery = q.Encode()
	s.sse.ServeHTTP(w, r)
}

package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/meshguard/accumulator-gateway/gateway"
	"github.com/meshguard/accumulator-gateway/gwerrors"
)

const (
	requestIDHeader   = "X-Request-Id"
	adminSecretHeader = "X-Admin-Secret"
)

type contextKey string

const requestIDContextKey contextKey = "request_id"

func newRequestID() string {
	return uuid.New().String()
}

// requestIDMiddleware stamps every response with a per-request identifier,
// reusing a caller-supplied one if present so a client-side trace ID
// round-trips.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// requireAdmin wraps an admin-only handler with the constant-time shared
// secret check.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		supplied := []byte(r.Header.Get(adminSecretHeader))
		if len(s.adminSecret) == 0 || !gateway.ConstantTimeEqual(supplied, s.adminSecret) {
			writeError(w, requestIDFromContext(r.Context()), gwerrors.New(gwerrors.Unauthorized, "missing or invalid admin secret"))
			return
		}
		next(w, r)
	}
}

const rateLimitRemainingHeader = "X-RateLimit-Remaining"

// rateLimited wraps a public handler with the per-source-address limiter.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.AllowSource(sourceAddr(r)); err != nil {
			w.Header().Set(rateLimitRemainingHeader, "0")
			writeError(w, requestIDFromContext(r.Context()), err)
			return
		}
		next(w, r)
	}
}

func sourceAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// errorResponse is the envelope every non-2xx response shares, surfacing
// the error Kind taxonomy as a machine-readable "kind" string.
type errorResponse struct {
	RequestID string `json:"requestId"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

var errNotFound = gwerrors.New(gwerrors.NotFound, "no such endpoint")

func writeError(w http.ResponseWriter, requestID string, err error) {
	kind := gwerrors.KindOf(err)
	writeJSON(w, statusForKind(kind), errorResponse{
		RequestID: requestID,
		Kind:      string(kind),
		Message:   err.Error(),
	})
}

func statusForKind(kind gwerrors.Kind) int {
	switch kind {
	case gwerrors.InvalidInput:
		return http.StatusBadRequest
	case gwerrors.Unauthorized:
		return http.StatusUnauthorized
	case gwerrors.RateLimited:
		return http.StatusTooManyRequests
	case gwerrors.NotFound:
		return http.StatusNotFound
	case gwerrors.Conflict:
		return http.StatusConflict
	case gwerrors.Precondition:
		return http.StatusPreconditionFailed
	case gwerrors.CryptoFailure:
		return http.StatusUnprocessableEntity
	case gwerrors.ChainFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	"github.com/agentmarket/engine/internal/services/auth"
	"github.com/agentmarket/engine/internal/services/ratelimit"
)

type contextKey int

const agentContextKey contextKey = iota

// agentFromContext returns the agent authenticated by withAuth, or nil
// on an unauthenticated route.
func agentFromContext(ctx context.Context) *models.Agent {
	agent, _ := ctx.Value(agentContextKey).(*models.Agent)
	return agent
}

// withAuth authenticates the request per §4.1 and stores the agent in the
// request context. Unlike rate limiting, authentication failure always
// aborts the request — there is no "soft" authenticated route, only
// handlers that choose not to read the agent from context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, apperr.Validation("failed to read request body"))
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		agent, err := s.authenticator.Authenticate(r.Context(), auth.Request{
			Authorization: r.Header.Get("Authorization"),
			TimestampRaw:  r.Header.Get("X-Timestamp"),
			Nonce:         r.Header.Get("X-Nonce"),
			Method:        r.Method,
			Path:          r.URL.Path,
			Body:          body,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), agentContextKey, agent)
		next(w, r.WithContext(ctx))
	}
}

// withRateLimit enforces §4.5's per-category token bucket, keyed by the
// authenticated agent id if the route also carries withAuth (order in the
// chain matters: auth wraps rate limiting so the key can read the already
// -authenticated agent), falling back to client IP otherwise.
func (s *Server) withRateLimit(category ratelimit.Category, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := ""
		if agent := agentFromContext(r.Context()); agent != nil {
			agentID = agent.ID
		}
		key := ratelimit.KeyForRequest(agentID, r.Header.Get("X-Forwarded-For"), r.RemoteAddr)

		result, err := s.limiter.Allow(r.Context(), key, category)
		if err != nil {
			writeError(w, apperr.UpstreamUnavailable("rate limiter unavailable", err))
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
			writeError(w, apperr.RateLimited(fmt.Sprintf("rate limit exceeded for %s", category)))
			return
		}
		next(w, r)
	}
}

// authenticated runs auth first so the rate limiter can key by agent id.
func (s *Server) authenticated(category ratelimit.Category, next http.HandlerFunc) http.HandlerFunc {
	return s.withAuth(func(w http.ResponseWriter, r *http.Request) {
		s.withRateLimit(category, next)(w, r)
	})
}

// unauthenticated applies only rate limiting, keyed by client IP.
func (s *Server) unauthenticated(category ratelimit.Category, next http.HandlerFunc) http.HandlerFunc {
	return s.withRateLimit(category, next)
}

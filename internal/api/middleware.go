package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/ipfilter"
	"github.com/foxzi/linkfleet/internal/metrics"
	"github.com/foxzi/linkfleet/internal/models"
	"github.com/foxzi/linkfleet/internal/ratelimit"
)

// ServiceActorID identifies requests authenticated with the service key
const ServiceActorID = "service"

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", models.ErrAuthRequired)

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// identify resolves the caller from X-API-Key or a bearer token. Requests
// without credentials continue anonymously; bad credentials are rejected.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.authenticate(r)
		if err != nil {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
				"error", err,
			)
			s.sendError(w, err)
			return
		}

		if actor != nil {
			r = r.WithContext(identity.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(r *http.Request) (*identity.Actor, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		if s.opts.ServiceKeyHash == "" {
			return nil, errInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.opts.ServiceKeyHash), []byte(key)); err != nil {
			return nil, errInvalidCredentials
		}
		return &identity.Actor{ID: ServiceActorID, Roles: []string{identity.RoleService}}, nil
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return nil, nil
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" || s.deps.Authenticator == nil {
		return nil, errInvalidCredentials
	}

	actor, err := s.deps.Authenticator.Authenticate(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuthRequired, err)
	}
	return actor, nil
}

// rateLimit applies per-actor and per-IP limits. Service callers are exempt.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		actor := identity.FromContext(r.Context())
		if actor.HasRole(identity.RoleService) {
			next.ServeHTTP(w, r)
			return
		}

		req := ratelimit.Request{}
		if actor != nil {
			req.ActorID = actor.ID
		}
		// RealIP has already rewritten RemoteAddr when proxies are trusted
		if addr, ok := ipfilter.ClientAddr(r, false); ok {
			req.IP = addr.String()
		}

		res := s.deps.Limiter.Allow(req)
		if !res.Allowed {
			metrics.IncRateLimitExceeded(string(res.DeniedBy))
			s.logger.Warn("rate limit exceeded", "level", res.DeniedBy, "key", res.DeniedKey)

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			s.sendJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "rate_limited",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

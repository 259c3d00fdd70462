package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/models"
	"github.com/foxzi/linkfleet/internal/ratelimit"
)

// errNotExecutable is returned for paused and completed campaigns
var errNotExecutable = errors.New("campaign is not executable in its current status")

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ListResponse wraps a page of items
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.opts.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// SweepResponse is the response for POST /api/v1/sweep
type SweepResponse struct {
	Deleted    int   `json:"deleted"`
	DurationMS int64 `json:"duration_ms"`
}

// handleSweep handles POST /api/v1/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if err := requireRole(actor, identity.RoleAdmin, identity.RoleService); err != nil {
		s.sendError(w, err)
		return
	}

	res, err := s.deps.Sweeper.Sweep(r.Context())
	if err != nil {
		s.sendError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, SweepResponse{
		Deleted:    res.Deleted,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// RateLimitStatsResponse is the response for GET /api/v1/ratelimits/{level}/{key}
type RateLimitStatsResponse struct {
	*ratelimit.Stats
	Allowed bool `json:"allowed"`
}

// handleRateLimitStats handles GET /api/v1/ratelimits/{level}/{key}
func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(identity.FromContext(r.Context()), identity.RoleAdmin); err != nil {
		s.sendError(w, err)
		return
	}
	if s.deps.Limiter == nil {
		s.sendJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "rate limiting is not enabled", Code: "unavailable"})
		return
	}

	level := ratelimit.Level(chi.URLParam(r, "level"))
	key := chi.URLParam(r, "key")

	req := ratelimit.Request{}
	switch level {
	case ratelimit.LevelActor:
		req.ActorID = key
	case ratelimit.LevelIP:
		req.IP = key
	case ratelimit.LevelGlobal:
		key = "global"
	default:
		s.sendError(w, models.Validationf("unknown level %q", level))
		return
	}

	s.sendJSON(w, http.StatusOK, RateLimitStatsResponse{
		Stats:   s.deps.Limiter.GetStats(level, key),
		Allowed: s.deps.Limiter.Check(req).Allowed,
	})
}

// requireRole returns ErrAuthRequired for anonymous callers and
// ErrPermissionDenied when the actor holds none of roles.
func requireRole(actor *identity.Actor, roles ...string) error {
	if actor == nil {
		return models.ErrAuthRequired
	}
	for _, role := range roles {
		if actor.HasRole(role) {
			return nil
		}
	}
	return models.ErrPermissionDenied
}

// decode reads a JSON body of at most MaxBodyBytes. An empty body leaves v
// untouched when optional is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return models.Validationf("invalid request body")
	}
	return nil
}

// page reads limit and offset query parameters
func (s *Server) page(r *http.Request) (limit, offset int, err error) {
	limit = s.opts.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, models.Validationf("limit must be a positive integer")
		}
		limit = min(limit, s.opts.MaxLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, models.Validationf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrPermissionDenied), errors.Is(err, models.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotClaimable), errors.Is(err, models.ErrNotClaimed), errors.Is(err, errNotExecutable):
		return http.StatusConflict
	case errors.Is(err, models.ErrExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrNoEligibleDomains):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError maps err to a status and writes it. Internal failures are
// logged and reported without detail.
func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := models.ErrorCode(err)
	if errors.Is(err, errNotExecutable) {
		code = "not_executable"
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	s.sendJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// notFound wraps ErrNotFound with the missing thing's name
func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %q", models.ErrNotFound, what, id)
}

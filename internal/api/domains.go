package api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/models"
)

var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// CreateDomainRequest is the body of POST /api/v1/domains
type CreateDomainRequest struct {
	Domain            string `json:"domain"`
	UserID            string `json:"user_id"`
	Verified          bool   `json:"verified"`
	PublishingEnabled bool   `json:"publishing_enabled"`
}

// normalizeDomain lowercases name and strips a scheme, path and trailing dot
func normalizeDomain(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, rest, ok := strings.Cut(name, "://"); ok {
		name = rest
	}
	if host, _, ok := strings.Cut(name, "/"); ok {
		name = host
	}
	return strings.TrimSuffix(name, ".")
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if actor == nil {
		s.sendError(w, models.ErrAuthRequired)
		return
	}

	owner := actor.ID
	if v := r.URL.Query().Get("user_id"); v != "" && actor.HasRole(identity.RoleAdmin) {
		owner = v
	}

	profiles, err := s.deps.Ledger.Profiles(r.Context(), owner)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if profiles == nil {
		profiles = []models.DomainProfile{}
	}
	s.sendJSON(w, http.StatusOK, ListResponse[models.DomainProfile]{Items: profiles, Total: len(profiles)})
}

func (s *Server) handleEligibleDomains(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if actor == nil {
		s.sendError(w, models.ErrAuthRequired)
		return
	}

	profiles, err := s.deps.Ledger.EligibleDomains(r.Context(), actor.ID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if profiles == nil {
		profiles = []models.DomainProfile{}
	}
	s.sendJSON(w, http.StatusOK, ListResponse[models.DomainProfile]{Items: profiles, Total: len(profiles)})
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if err := requireRole(actor, identity.RoleAdmin); err != nil {
		s.sendError(w, err)
		return
	}

	var req CreateDomainRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.sendError(w, err)
		return
	}

	name := normalizeDomain(req.Domain)
	if len(name) > 253 || !domainPattern.MatchString(name) {
		s.sendError(w, models.Validationf("invalid domain %q", req.Domain))
		return
	}
	owner := req.UserID
	if owner == "" {
		owner = actor.ID
	}

	d := &models.Domain{
		UserID:            owner,
		Domain:            name,
		Verified:          req.Verified,
		PublishingEnabled: req.PublishingEnabled,
	}
	if err := s.deps.Domains.Create(r.Context(), d); err != nil {
		s.sendError(w, err)
		return
	}
	s.logger.Info("domain registered", "domain", d.Domain, "domain_id", d.ID, "owner", owner)

	profile, err := s.deps.Ledger.Profile(r.Context(), d.ID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, profile)
}

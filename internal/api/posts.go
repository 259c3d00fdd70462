package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/linkfleet/internal/executor"
	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/models"
)

// CreatePostRequest is the body of POST /api/v1/posts
type CreatePostRequest struct {
	DomainID        string `json:"domain_id"`
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	Excerpt         string `json:"excerpt"`
	MetaDescription string `json:"meta_description"`
	TargetURL       string `json:"target_url"`
	AnchorText      string `json:"anchor_text"`
	Keyword         string `json:"keyword"`
}

func (req *CreatePostRequest) validate() error {
	if strings.TrimSpace(req.DomainID) == "" {
		return models.Validationf("domain_id is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return models.Validationf("title is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return models.Validationf("content is required")
	}
	return nil
}

func (s *Server) handleCreateTrialPost(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.sendError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.sendError(w, err)
		return
	}

	slug := req.Slug
	if slug == "" {
		slug = req.Title
	}
	slug = executor.Slugify(slug)
	if slug == "" {
		s.sendError(w, models.Validationf("slug is empty after normalization"))
		return
	}

	domain, err := s.deps.Ledger.Profile(r.Context(), req.DomainID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if !domain.Verified || !domain.PublishingEnabled || domain.Status != models.DomainStatusActive {
		s.sendError(w, models.Validationf("domain %s does not accept posts", domain.Domain.Domain))
		return
	}

	p := &models.Post{
		Slug:            slug,
		DomainID:        domain.ID,
		Status:          models.PostPublished,
		Title:           req.Title,
		Content:         req.Content,
		Excerpt:         req.Excerpt,
		MetaDescription: req.MetaDescription,
		TargetURL:       req.TargetURL,
		AnchorText:      req.AnchorText,
		Keyword:         req.Keyword,
	}
	if err := s.deps.Lifecycle.CreateTrial(r.Context(), p); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	p, err := s.deps.Posts.GetBySlug(r.Context(), slug)
	if err != nil {
		s.sendError(w, models.Persistence("get post", err))
		return
	}
	if p == nil {
		s.sendError(w, notFound("post", slug))
		return
	}
	s.sendJSON(w, http.StatusOK, p)
}

func (s *Server) handleClaimPost(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Lifecycle.Claim(r.Context(), chi.URLParam(r, "slug"), identity.FromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, p)
}

func (s *Server) handleUnclaimPost(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Lifecycle.Unclaim(r.Context(), chi.URLParam(r, "slug"), identity.FromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lifecycle.Delete(r.Context(), chi.URLParam(r, "slug"), identity.FromContext(r.Context())); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

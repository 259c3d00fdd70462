package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/linkfleet/internal/executor"
	"github.com/foxzi/linkfleet/internal/identity"
	"github.com/foxzi/linkfleet/internal/models"
)

// CreateCampaignRequest is the body of POST /api/v1/campaigns
type CreateCampaignRequest struct {
	Name             string   `json:"name"`
	TargetURL        string   `json:"target_url"`
	AnchorTexts      []string `json:"anchor_texts"`
	Keywords         []string `json:"keywords"`
	Domains          []string `json:"domains"`
	RotationStrategy string   `json:"rotation_strategy"`
	ContentQuality   string   `json:"content_quality"`
}

// StatusRequest is the body of PUT /api/v1/campaigns/{id}/status
type StatusRequest struct {
	Status string `json:"status"`
}

// PlanRequest is the optional body of POST /api/v1/campaigns/{id}/plan
type PlanRequest struct {
	PostsPerDomain int `json:"posts_per_domain"`
}

// ExecuteResponse is the response for POST /api/v1/campaigns/{id}/execute
type ExecuteResponse struct {
	*executor.Result
	Status string `json:"status"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.sendError(w, err)
		return
	}

	c := &models.Campaign{
		Name:             req.Name,
		TargetURL:        req.TargetURL,
		AnchorTexts:      req.AnchorTexts,
		Keywords:         req.Keywords,
		Domains:          req.Domains,
		RotationStrategy: req.RotationStrategy,
		ContentQuality:   req.ContentQuality,
	}
	if err := s.deps.Campaigns.Create(r.Context(), c, identity.FromContext(r.Context())); err != nil {
		s.sendError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if actor == nil {
		s.sendError(w, models.ErrAuthRequired)
		return
	}
	limit, offset, err := s.page(r)
	if err != nil {
		s.sendError(w, err)
		return
	}

	filter := models.CampaignListFilter{
		UserID: r.URL.Query().Get("user_id"),
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	}
	if filter.Status != "" && !models.ValidCampaignStatus(filter.Status) {
		s.sendError(w, models.Validationf("unknown status %q", filter.Status))
		return
	}

	campaigns, total, err := s.deps.Campaigns.List(r.Context(), filter, actor)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}

	s.sendJSON(w, http.StatusOK, ListResponse[models.Campaign]{Items: campaigns, Total: total})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Campaigns.Authorize(r.Context(), chi.URLParam(r, "id"), identity.FromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.sendError(w, err)
		return
	}

	c, err := s.deps.Campaigns.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, identity.FromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleBuildPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := s.decode(w, r, &req, true); err != nil {
		s.sendError(w, err)
		return
	}
	if req.PostsPerDomain < 0 {
		s.sendError(w, models.Validationf("posts_per_domain must not be negative"))
		return
	}

	c, err := s.deps.Campaigns.Authorize(r.Context(), chi.URLParam(r, "id"), identity.FromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}

	plan, err := s.deps.Campaigns.BuildPlan(r.Context(), c, req.PostsPerDomain)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Campaigns.Authorize(r.Context(), chi.URLParam(r, "id"), identity.FromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}

	plan, err := s.deps.Campaigns.LatestPlan(r.Context(), c.ID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, plan)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Campaigns.Authorize(r.Context(), chi.URLParam(r, "id"), identity.FromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}
	if c.Status == models.CampaignPaused || c.Status == models.CampaignCompleted {
		s.sendError(w, errNotExecutable)
		return
	}

	res, err := s.deps.Executor.Execute(r.Context(), c.ID)
	if err != nil {
		s.sendError(w, err)
		return
	}

	s.logger.Info("campaign executed",
		"campaign_id", c.ID,
		"posts_created", res.PostsCreated,
		"skipped", res.Skipped,
	)
	s.sendJSON(w, http.StatusOK, ExecuteResponse{Result: res, Status: models.CampaignActive})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agroops/agrohub/hub/internal/store"
	"github.com/agroops/agrohub/hub/internal/tenancy"
)

func (s *Server) handleListMyTenants(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	tenants, err := s.svc.Tenants.ListTenantsForUser(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []store.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenancy.CreateTenantInput
	if !s.decodeBody(w, r, &req) {
		return
	}
	identity := getIdentityFromContext(r.Context())
	t, err := s.svc.Tenants.CreateTenant(r.Context(), req, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	t, err := s.svc.Tenants.GetTenant(r.Context(), chi.URLParam(r, "tenantID"), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenancy.UpdateTenantInput
	if !s.decodeBody(w, r, &req) {
		return
	}
	identity := getIdentityFromContext(r.Context())
	t, err := s.svc.Tenants.UpdateTenant(r.Context(), chi.URLParam(r, "tenantID"), req, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	identity := getIdentityFromContext(r.Context())
	if _, err := s.svc.Members.RequireRole(r.Context(), tenantID, identity.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	limits, err := s.svc.Tenants.GetLimits(r.Context(), tenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	identity := getIdentityFromContext(r.Context())
	t, err := s.svc.Tenants.ChangePlan(r.Context(), chi.URLParam(r, "tenantID"), req.Plan, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	identity := getIdentityFromContext(r.Context())
	events, err := s.svc.Tenants.ListAuditEvents(r.Context(), chi.URLParam(r, "tenantID"), identity.UserID, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Members ---

// memberView adds the display label to a membership.
type memberView struct {
	store.Membership
	RoleLabel string `json:"role_label"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	members, err := s.svc.Members.ListMembers(r.Context(), chi.URLParam(r, "tenantID"), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]memberView, 0, len(members))
	for _, m := range members {
		views = append(views, memberView{Membership: m, RoleLabel: m.Role.Label()})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role_code"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	identity := getIdentityFromContext(r.Context())
	m, err := s.svc.Members.ChangeRole(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "membershipID"), req.Role, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView{Membership: *m, RoleLabel: m.Role.Label()})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	if err := s.svc.Members.RemoveMember(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "membershipID"), identity.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Workers ---

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	workers, err := s.svc.Workers.ListWorkers(r.Context(), chi.URLParam(r, "tenantID"), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if workers == nil {
		workers = []store.Worker{}
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	var req tenancy.WorkerInput
	if !s.decodeBody(w, r, &req) {
		return
	}
	identity := getIdentityFromContext(r.Context())
	wk, err := s.svc.Workers.CreateWorker(r.Context(), chi.URLParam(r, "tenantID"), req, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wk)
}

func (s *Server) handleLinkWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MembershipID string `json:"membership_id"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	identity := getIdentityFromContext(r.Context())
	wk, err := s.svc.Workers.LinkMembership(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "workerID"), req.MembershipID, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wk)
}

func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	if err := s.svc.Workers.RemoveWorker(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "workerID"), identity.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

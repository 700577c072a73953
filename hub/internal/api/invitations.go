package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agroops/agrohub/hub/internal/tenancy"
)

func (s *Server) handlePreviewInvitation(w http.ResponseWriter, r *http.Request) {
	preview, err := s.svc.Invitations.Preview(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req tenancy.AcceptInput
	if !s.decodeBody(w, r, &req) {
		return
	}
	identity := getIdentityFromContext(r.Context())
	req.UserID = identity.UserID
	req.Email = identity.Email
	if req.FullName == "" {
		req.FullName = identity.Name
	}

	res, err := s.svc.Invitations.Accept(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	invs, err := s.svc.Invitations.ListInvitations(r.Context(), chi.URLParam(r, "tenantID"), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if invs == nil {
		invs = []tenancy.InvitationView{}
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req tenancy.InviteInput
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.TenantID = chi.URLParam(r, "tenantID")
	identity := getIdentityFromContext(r.Context())

	issued, err := s.svc.Invitations.Invite(r.Context(), req, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleRevokeInvitation(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	err := s.svc.Invitations.RevokeInTenant(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "invitationID"), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

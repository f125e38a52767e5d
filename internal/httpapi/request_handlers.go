package httpapi

import (
	"net/http"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
	"arewa.org/internal/audit"
)

const reasonAdminRequired = "admin_required"

type createRequestBody struct {
	ResourceKind string `json:"resource_kind"`
	ResourceID   string `json:"resource_id"`
	RequestType  string `json:"request_type"`
	Purpose      string `json:"purpose"`
	DurationDays int    `json:"duration_days"`
}

func (a *API) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeAppError(w, r, err)
		return
	}
	kind, err := access.ParseResourceKind(body.ResourceKind)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	ref := access.ResourceRef{Kind: kind, ID: body.ResourceID}
	res, err := a.resources.FindResource(r.Context(), ref)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	req, err := a.access.CreateAccessRequest(r.Context(), p.User, res, access.NewRequest{
		Type:         access.RequestType(body.RequestType),
		Purpose:      body.Purpose,
		DurationDays: body.DurationDays,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.AccessRequestCreated, map[string]any{
		"request_code": req.Code,
		"resource":     req.Resource.String(),
		"request_type": string(req.Type),
	})
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) handleListRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	reqs, err := a.access.Workflow().ListForUser(r.Context(), p.User.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []access.AccessRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.review(w, r, access.StatusApproved)
}

func (a *API) handleDeny(w http.ResponseWriter, r *http.Request) {
	a.review(w, r, access.StatusDenied)
}

func (a *API) review(w http.ResponseWriter, r *http.Request, to access.RequestStatus) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	if !p.CanReview() {
		_ = audit.LogEvent(r.Context(), audit.UnauthorizedAccess, map[string]any{
			"action":     "review_access_request",
			"request_id": r.PathValue("id"),
		})
		writeAppError(w, r, apperr.Denied(reasonAdminRequired))
		return
	}

	var (
		req   *access.AccessRequest
		err   error
		event string
	)
	wf := a.access.Workflow()
	if to == access.StatusApproved {
		req, err = wf.Approve(r.Context(), r.PathValue("id"), p.User.ID)
		event = audit.AccessRequestApproved
	} else {
		req, err = wf.Deny(r.Context(), r.PathValue("id"), p.User.ID)
		event = audit.AccessRequestDenied
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"request_code": req.Code,
		"owner":        req.UserID,
		"resource":     req.Resource.String(),
	})
	writeJSON(w, http.StatusOK, req)
}

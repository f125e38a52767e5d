package httpapi

import (
	"net/http"
	"strings"
	"time"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
	"arewa.org/internal/auth"
	"arewa.org/internal/obs"
)

type accessResponse struct {
	Resource access.ResourceRef `json:"resource"`
	Level    access.AccessLevel `json:"access_level"`
	Allowed  bool               `json:"allowed"`
	Reason   string             `json:"reason"`
}

type downloadResponse struct {
	Token       string    `json:"token"`
	DownloadURL string    `json:"download_url"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   int       `json:"remaining"`
}

func resourceRef(r *http.Request) (access.ResourceRef, error) {
	kind, err := access.ParseResourceKind(r.PathValue("kind"))
	if err != nil {
		return access.ResourceRef{}, err
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		return access.ResourceRef{}, apperr.Invalid("resource_id", "resource id is required")
	}
	return access.ResourceRef{Kind: kind, ID: id}, nil
}

// handleAccessCheck answers whether the caller, possibly anonymous, may view a resource.
func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	ref, err := resourceRef(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := a.resources.FindResource(r.Context(), ref)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	d, err := a.access.DecideAccess(r.Context(), auth.UserFromContext(r.Context()), res)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	obs.AccessDecision(string(res.AccessLevel), d.Allowed)
	writeJSON(w, http.StatusOK, accessResponse{
		Resource: ref,
		Level:    res.AccessLevel,
		Allowed:  d.Allowed,
		Reason:   d.Reason,
	})
}

func (a *API) handleIssueDownload(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	ref, err := resourceRef(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	ticket, err := a.downloads.Issue(r.Context(), p.User, ref)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, downloadResponse{
		Token:       ticket.Token,
		DownloadURL: "/v1/downloads/" + ticket.Token,
		ExpiresIn:   int64(ticket.ExpiresIn / time.Second),
		ExpiresAt:   ticket.ExpiresAt,
		Remaining:   ticket.Remaining,
	})
}

func (a *API) handleQuota(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	q, err := a.downloads.CheckDailyLimit(r.Context(), p.User.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleRedeem consumes a download token. The token itself is the credential,
// so no bearer token is needed.
func (a *API) handleRedeem(w http.ResponseWriter, r *http.Request) {
	grant, err := a.downloads.Redeem(r.Context(), r.PathValue("token"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, grant)
}

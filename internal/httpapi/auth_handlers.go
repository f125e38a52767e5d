package httpapi

import (
	"errors"
	"net/http"
	"time"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
	"arewa.org/internal/audit"
	"arewa.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        access.User `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}

	ip := clientIP(r)
	session, err := a.gateway.Authenticate(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		DeviceID: req.DeviceID,
		ClientIP: ip,
	})
	if err != nil {
		event := audit.AuthFailed
		if errors.Is(err, apperr.ErrRateLimited) {
			event = audit.AuthLocked
		}
		_ = audit.LogEvent(r.Context(), event, map[string]any{
			"ip":     ip,
			"reason": apperr.KindOf(err).String(),
		})
		writeAppError(w, r, err)
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), auth.NewPrincipal(session.User, session.TokenID))
	_ = audit.LogEvent(ctx, audit.AuthSuccess, map[string]any{
		"ip":        ip,
		"device_id": req.DeviceID,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(session.ExpiresIn / time.Second),
		ExpiresAt:   session.ExpiresAt,
		User:        session.User,
	})
}

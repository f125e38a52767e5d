package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"arewa.org/internal/auth"
	"arewa.org/internal/obs"
)

// Security events.
const (
	AuthSuccess           = "api_auth_success"
	AuthFailed            = "api_auth_failed"
	AuthLocked            = "api_auth_locked"
	UnauthorizedAccess    = "unauthorized_asset_access_attempt"
	AccessRequestCreated  = "access_request_created"
	AccessRequestApproved = "access_request_approved"
	AccessRequestDenied   = "access_request_denied"
	DownloadIssued        = "digital_asset_download_issued"
	Downloaded            = "digital_asset_downloaded"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	obs.Logger().WithFields(entry).Warn(event)
	return nil
}

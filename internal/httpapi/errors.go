package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"arewa.org/internal/apperr"
	"arewa.org/internal/obs"
)

// statusFor maps an outcome kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidCredentials, apperr.KindTokenInvalidOrExpired:
		return http.StatusUnauthorized
	case apperr.KindAccountDisabled, apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindDuplicateRequest, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInfrastructure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage is what a client sees for each kind. Backend detail never leaves the process.
var publicMessage = map[apperr.Kind]string{
	apperr.KindInvalidCredentials:    "invalid credentials",
	apperr.KindAccountDisabled:       "account is disabled",
	apperr.KindRateLimited:           "too many attempts",
	apperr.KindTokenInvalidOrExpired: "token is invalid or expired",
	apperr.KindAccessDenied:          "access denied",
	apperr.KindDuplicateRequest:      "a pending request already exists for this resource",
	apperr.KindInvalidState:          "request is not pending",
	apperr.KindNotFound:              "not found",
	apperr.KindInfrastructure:        "service temporarily unavailable",
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	payload := map[string]any{
		"error": kind.String(),
	}
	switch kind {
	case apperr.KindValidation:
		payload["message"] = validationMessage(err)
		payload["field"] = apperr.FieldOf(err)
	case apperr.KindAccessDenied:
		payload["message"] = publicMessage[kind]
		payload["reason"] = apperr.ReasonOf(err)
	case apperr.KindRateLimited:
		retry := retryAfterSeconds(apperr.RetryAfterOf(err))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		payload["message"] = publicMessage[kind]
		payload["retry_after"] = retry
	case apperr.KindUnknown:
		payload["error"] = "internal_error"
		payload["message"] = "internal error"
	default:
		payload["message"] = publicMessage[kind]
	}
	if code >= http.StatusInternalServerError {
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("request failed")
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func validationMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "invalid input"
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("body", "request body is required")
		}
		return apperr.Invalid("body", "malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.Invalid("body", "unexpected data after JSON body")
	}
	return nil
}

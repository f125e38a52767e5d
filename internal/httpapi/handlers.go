package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sort"
	"time"

	"arewa.org/internal/access"
	"arewa.org/internal/auth"
	"arewa.org/internal/download"
	"arewa.org/internal/obs"
)

const serviceName = "archive-access"

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ReadyProbe pings named dependencies in name order.
type ReadyProbe map[string]Pinger

func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp))
	for name := range rp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if rp[name] == nil {
			continue
		}
		if err := rp[name].Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Deps are the services the API exposes.
type Deps struct {
	Gateway   *auth.Gateway
	Access    *access.Service
	Resources access.ResourceStore
	Downloads *download.Service
	Ready     ReadyProbe
	Version   string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	gateway   *auth.Gateway
	access    *access.Service
	resources access.ResourceStore
	downloads *download.Service
	ready     ReadyProbe
	version   string

	ratePerMinute  int
	rateBurst      int
	maxBodyBytes   int64
	trustedProxies []netip.Prefix
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP request budget.
func WithRateLimit(perMinute, burst int) Option {
	return func(a *API) {
		if perMinute > 0 {
			a.ratePerMinute = perMinute
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For is believed.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = append(a.trustedProxies, prefixes...)
	}
}

func New(deps Deps, opts ...Option) (*API, error) {
	if deps.Gateway == nil || deps.Access == nil || deps.Resources == nil || deps.Downloads == nil {
		return nil, errors.New("httpapi: gateway, access, resources and downloads are required")
	}
	a := &API{
		mux:           http.NewServeMux(),
		gateway:       deps.Gateway,
		access:        deps.Access,
		resources:     deps.Resources,
		downloads:     deps.Downloads,
		ready:         deps.Ready,
		version:       deps.Version,
		ratePerMinute: 100,
		rateBurst:     20,
		maxBodyBytes:  1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST "+loginPath, a.handleLogin)
	a.mux.HandleFunc("GET /v1/resources/{kind}/{id}/access", a.handleAccessCheck)
	a.mux.HandleFunc("POST /v1/resources/{kind}/{id}/download", a.handleIssueDownload)
	a.mux.HandleFunc("GET /v1/downloads/quota", a.handleQuota)
	a.mux.HandleFunc("GET /v1/downloads/{token}", a.handleRedeem)
	a.mux.HandleFunc("POST /v1/access-requests", a.handleCreateRequest)
	a.mux.HandleFunc("GET /v1/access-requests", a.handleListRequests)
	a.mux.HandleFunc("POST /v1/access-requests/{id}/approve", a.handleApprove)
	a.mux.HandleFunc("POST /v1/access-requests/{id}/deny", a.handleDeny)

	return a, nil
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerMinute)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = ClientIP(h, a.trustedProxies)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

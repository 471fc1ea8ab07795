// Package httpapi exposes the identity service over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"tenbase.org/internal/auth"
	"tenbase.org/internal/obs"
)

// Pinger reports backend liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backends the service cannot run without.
type ReadyProbe struct {
	DB     *sql.DB
	Window Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Window != nil {
		if err := rp.Window.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer over the identity service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	version    string

	maxBodyBytes int64
	ratePerSec   int
	rateBurst    int
}

// Option configures the API.
type Option func(*API)

// WithEdgeRateLimit sets the per-IP token bucket in front of the mux.
func WithEdgeRateLimit(perSecond, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithMaxBodyBytes caps request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(svc *auth.Service, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		svc:          svc,
		readyProbe:   rp,
		version:      version,
		maxBodyBytes: 1 << 20,
		ratePerSec:   20,
		rateBurst:    40,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity endpoints
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/sessions/current", a.handleCurrentSession)
	a.mux.HandleFunc("/v1/auth/sessions/invalidate", a.handleInvalidateSessions)
	a.mux.HandleFunc("/v1/auth/password/change", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/password/forgot", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/password/reset", a.handleResetPassword)
	a.mux.HandleFunc("/v1/auth/password/admin-reset", a.handleAdminReset)
	a.mux.HandleFunc("/v1/auth/verify/", a.handleVerifyEmail)
	a.mux.HandleFunc("/v1/auth/resend-verification", a.handleResendVerification)
	a.mux.HandleFunc("/v1/auth/permissions/check", a.handlePermissionCheck)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain for the server.
func (a *API) Handler() http.Handler {
	h := a.withSession(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = SecurityHeaders(h)
	h = RateLimit(h, a.ratePerSec, a.rateBurst)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tenbase-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "tenbase-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

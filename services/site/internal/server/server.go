package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"folio/internal/metrics"
	"folio/internal/ratelimit"
	"folio/internal/security"
	"folio/internal/util"
	"folio/pkg/domain"
	"folio/services/site/internal/app"
)

const (
	guestCookieName = "guest_session"
	adminCookieName = "session"

	maxBodyBytes = 1 << 20

	contactWindow  = time.Hour
	loginWindow    = 15 * time.Minute
	progressWindow = time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Limiter        *ratelimit.Limiter
	Alerter        *security.AuditAlerter
	Metrics        *metrics.Metrics
	CORS           *util.CORS
	TrustedProxies *util.TrustedProxies
	// Production hides internal error details and forces HSTS.
	Production    bool
	CookieSecure  bool
	GuestSameSite http.SameSite

	ContactRateLimitPerHour    int
	LoginRateLimitPer15Min     int
	ProgressRateLimitPerMinute int

	// Ready reports whether the store is reachable; nil means always ready.
	Ready func(ctx context.Context) error
	Clock func() time.Time
}

// Server exposes the reading-progress, contact and admin endpoints.
type Server struct {
	app           *app.App
	limiter       *ratelimit.Limiter
	alerter       *security.AuditAlerter
	metrics       *metrics.Metrics
	cors          *util.CORS
	trusted       *util.TrustedProxies
	production    bool
	cookieSecure  bool
	guestSameSite http.SameSite
	contactLimit  int
	loginLimit    int
	progressLimit int
	ready         func(ctx context.Context) error
	now           func() time.Time
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	contactLimit := cfg.ContactRateLimitPerHour
	if contactLimit <= 0 {
		contactLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPer15Min
	if loginLimit <= 0 {
		loginLimit = 5
	}
	progressLimit := cfg.ProgressRateLimitPerMinute
	if progressLimit <= 0 {
		progressLimit = 120
	}
	sameSite := cfg.GuestSameSite
	if sameSite == 0 {
		sameSite = http.SameSiteNoneMode
	}
	corsPolicy := cfg.CORS
	if corsPolicy == nil {
		corsPolicy = util.NewCORS(nil)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	s := &Server{
		app:           cfg.App,
		limiter:       cfg.Limiter,
		alerter:       cfg.Alerter,
		metrics:       cfg.Metrics,
		cors:          corsPolicy,
		trusted:       cfg.TrustedProxies,
		production:    cfg.Production,
		cookieSecure:  cfg.CookieSecure,
		guestSameSite: sameSite,
		contactLimit:  contactLimit,
		loginLimit:    loginLimit,
		progressLimit: progressLimit,
		ready:         cfg.Ready,
		now:           now,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler. Metrics wraps the mux directly so
// the matched route pattern is visible to it.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.metrics.Middleware(s.mux)
	h = util.WithSecurityHeaders(s.production, h)
	h = util.WithRequestLog("site", s.trusted, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// progress
	s.mux.HandleFunc("/api/progress", s.api(s.handleProgressList))
	s.mux.HandleFunc("/api/progress/analytics", s.api(s.handleAnalytics))
	s.mux.HandleFunc("/api/progress/{ebookId}", s.api(s.handleProgress))

	// contact
	s.mux.HandleFunc("/api/contact", s.api(s.handleContact))

	// admin
	s.mux.HandleFunc("/api/admin/login", s.api(s.handleAdminLogin))
	s.mux.HandleFunc("/api/admin/logout", s.api(s.handleAdminLogout))
	s.mux.HandleFunc("/api/admin/messages", s.api(s.adminOnly(s.handleAdminMessages)))
}

// api answers CORS preflight and decorates responses for allowed origins.
// Requests from other origins pass through without CORS headers.
func (s *Server) api(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			if origin := r.Header.Get("Origin"); origin != "" && !s.cors.Allowed(origin) {
				s.audit(r, "cors.preflight", "fail", "origin", origin)
			}
			s.cors.Preflight(w, r)
			return
		}
		s.cors.Apply(w, r)
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			util.LoggerFromContext(r.Context()).Warn("readiness check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session resolution

func (s *Server) sessionFromCookie(r *http.Request, name string) (string, *domain.Session) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", nil
	}
	return cookie.Value, s.app.Sessions().Resolve(r.Context(), cookie.Value)
}

func (s *Server) guestSession(w http.ResponseWriter, r *http.Request) *domain.Session {
	token, session := s.sessionFromCookie(r, guestCookieName)
	if session == nil || !session.IsGuest() {
		return nil
	}
	s.slideSession(w, r, guestCookieName, token, session)
	return session
}

// slideSession re-issues the cookie once less than half of its lifetime is
// left. Failures keep the current token.
func (s *Server) slideSession(w http.ResponseWriter, r *http.Request, name, token string, session *domain.Session) {
	ttl := s.app.Sessions().TTL(session.Role)
	if ttl <= 0 || session.ExpiresAt.Sub(s.now()) > ttl/2 {
		return
	}
	issued, err := s.app.Sessions().Refresh(r.Context(), token)
	if err != nil {
		util.LoggerFromContext(r.Context()).Debug("session refresh skipped", "err", err)
		return
	}
	s.setSessionCookie(w, name, issued)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, name string, issued domain.IssuedSession) {
	sameSite := http.SameSiteStrictMode
	if name == guestCookieName {
		sameSite = s.guestSameSite
	}
	maxAge := int(issued.Session.ExpiresAt.Sub(s.now()).Seconds())
	if maxAge <= 0 {
		maxAge = int(s.app.Sessions().TTL(issued.Session.Role).Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    issued.Token,
		Path:     "/",
		Expires:  issued.Session.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: sameSite,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// admin wrapper
type adminHandler func(http.ResponseWriter, *http.Request, *domain.Session)

func (s *Server) adminOnly(next adminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, session := s.sessionFromCookie(r, adminCookieName)
		if err := app.RequireAdmin(session); err != nil {
			reason := "missing_session"
			if session != nil {
				reason = "not_admin"
			}
			s.audit(r, "admin.authorize", "fail", "reason", reason)
			s.writeAppError(w, r, err)
			return
		}
		s.slideSession(w, r, adminCookieName, token, session)
		next(w, r, session)
	}
}

// rate limiting

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, scope string, limit int, window time.Duration, msg string) bool {
	ip := util.ClientIP(r, s.trusted)
	decision := s.limiter.Take(r.Context(), scope+":"+util.RateLimitKey(ip), limit, window)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining()))
	if decision.Allowed {
		return true
	}
	s.metrics.RateLimited(scope)
	s.audit(r, scope, "rate_limited")
	w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

// audit logs a security event and feeds the alerter.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

// responses

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, app.ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, "invalid password")
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		msg := "internal server error"
		if !s.production {
			msg = err.Error()
		}
		writeError(w, http.StatusInternalServerError, msg)
	}
}

// decodeJSON reads a bounded JSON body into dst. Errors are safe to return
// to the client.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	err := dec.Decode(dst)
	if err == nil {
		// A body holds exactly one JSON value.
		if dec.Decode(&struct{}{}) != io.EOF {
			return &app.ValidationError{Message: "invalid request body"}
		}
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &app.ValidationError{Message: fmt.Sprintf("%s has an invalid type", typeErr.Field)}
	}
	return &app.ValidationError{Message: "invalid request body"}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

package util

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Request-Id"
	corsMaxAge       = "600"
)

// CORS answers cross-origin requests for an explicit origin allow-list.
// Credentials are allowed because sessions travel in cookies, so a wildcard
// origin is never emitted.
type CORS struct {
	origins map[string]struct{}
}

// NewCORS normalises origins (scheme://host[:port], no trailing slash).
func NewCORS(origins []string) *CORS {
	set := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = normalizeOrigin(origin)
		if origin == "" {
			continue
		}
		set[origin] = struct{}{}
	}
	return &CORS{origins: set}
}

// Allowed reports whether origin is on the allow-list.
func (c *CORS) Allowed(origin string) bool {
	if c == nil {
		return false
	}
	_, ok := c.origins[normalizeOrigin(origin)]
	return ok
}

// Apply sets CORS response headers when the request Origin is allowed.
// It returns false only for a non-empty Origin that is not allowed.
func (c *CORS) Apply(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Add("Vary", "Origin")
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if !c.Allowed(origin) {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	return true
}

// Preflight handles an OPTIONS request. Unknown origins get 403.
func (c *CORS) Preflight(w http.ResponseWriter, r *http.Request) {
	if !c.Apply(w, r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if r.Header.Get("Origin") != "" {
		w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		w.Header().Set("Access-Control-Max-Age", corsMaxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}

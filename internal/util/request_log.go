package util

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type loggedResponse struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggedResponse) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggedResponse) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// WithRequestLog writes one http_request record per request through the
// request-scoped logger. Server errors log at error, client errors at warn.
func WithRequestLog(component string, trusted *TrustedProxies, next http.Handler) http.Handler {
	component = strings.TrimSpace(component)
	if component == "" {
		component = "http"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggedResponse{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		if lw.status == 0 {
			lw.status = http.StatusOK
		}

		level := slog.LevelInfo
		switch {
		case lw.status >= 500:
			level = slog.LevelError
		case lw.status >= 400:
			level = slog.LevelWarn
		}
		LoggerFromContext(r.Context()).LogAttrs(r.Context(), level, "http_request",
			slog.String("component", component),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", lw.status),
			slog.Int("bytes", lw.bytes),
			slog.String("ip", ClientIP(r, trusted)),
			slog.String("user_agent", r.UserAgent()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

package util

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogLevelFollowsStatus(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		handler := WithRequestLog("site", nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		req := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
		req = req.WithContext(ContextWithLogger(context.Background(), logger))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
			t.Fatalf("decode log record %q: %v", buf.String(), err)
		}
		if record["level"] != tc.level || record["msg"] != "http_request" {
			t.Fatalf("status %d logged %v", tc.status, record)
		}
		if record["status"] != float64(tc.status) || record["path"] != "/api/contact" || record["component"] != "site" {
			t.Fatalf("unexpected attributes: %v", record)
		}
	}
}

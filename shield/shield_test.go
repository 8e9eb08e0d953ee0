package shield

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func newRouter(buf *bytes.Buffer) http.Handler {
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	for _, mw := range APIStack(logger) {
		r.Use(mw)
	}
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		GetLogger(r.Context()).Info("handler ran")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("pong"))
	})
	return r
}

func TestAPIStack_Headers(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newRouter(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	for h, want := range map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": APIHeaders().CSP,
	} {
		if got := rec.Header().Get(h); got != want {
			t.Errorf("%s = %q, want %q", h, got, want)
		}
	}
}

func TestAPIStack_HeadToGet(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newRouter(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/ping", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("HEAD status = %d, want 418", rec.Code)
	}
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	newRouter(&buf).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "handler ran") || !strings.Contains(lines[0], `"path":"/ping"`) {
		t.Errorf("request-scoped logger not used: %s", lines[0])
	}
	for _, want := range []string{`"status":418`, `"bytes":4`, `"request_id":"`} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("access log missing %s: %s", want, lines[1])
		}
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context()) != slog.Default() {
		t.Error("expected slog.Default")
	}
}

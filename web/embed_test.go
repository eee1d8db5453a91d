package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDashboardServesIndexForPagePaths(t *testing.T) {
	h := DashboardHandler()

	for _, p := range []string{"/", "/index.html", "/dashboard/questions"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", p, w.Code)
		}
		if !strings.Contains(w.Body.String(), "/api/live/stream") {
			t.Fatalf("%s: expected dashboard page", p)
		}
		if got := w.Header().Get("Cache-Control"); got != "no-cache" {
			t.Fatalf("%s: expected no-cache, got %q", p, got)
		}
	}
}

func TestDashboardDoesNotSwallowAPIPaths(t *testing.T) {
	h := DashboardHandler()

	for _, p := range []string{"/api/live/unknown", "/ws/client/"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", p, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", w.Code)
	}
}

package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html": {Data: []byte("<!doctype html><title>CSIRT AI</title>")},
		"app.css":    {Data: []byte("body{}")},
	}
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSPAHandlerServesFilesAndFallsBack(t *testing.T) {
	t.Parallel()

	h := spaHandler(testFS())

	if rec := get(h, "/app.css"); rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
		t.Fatalf("unexpected static response: %d %q", rec.Code, rec.Body.String())
	}

	rec := get(h, "/some/client/route")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "CSIRT AI") {
		t.Fatalf("expected index fallback, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-cache" {
		t.Fatal("index.html must not be cached")
	}
}

func TestSPAHandlerDoesNotShadowAPI(t *testing.T) {
	t.Parallel()

	h := spaHandler(testFS())
	for _, path := range []string{"/api/unknown", "/ws/unknown"} {
		if rec := get(h, path); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestEmbeddedClientPresent(t *testing.T) {
	t.Parallel()

	rec := get(SPAHandler(), "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/ws/playback") {
		t.Fatalf("embedded client missing: %d", rec.Code)
	}
}

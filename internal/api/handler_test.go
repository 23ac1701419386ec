//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/csirt-labs/internal/session"
	"github.com/ashureev/csirt-labs/internal/speech"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusConflict, "busy")

	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Expected JSON content type, got %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "busy" {
		t.Fatalf("Expected error=busy, got %v", got)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotLoggedIn, http.StatusUnauthorized},
		{session.ErrAlreadyInfected, http.StatusConflict},
		{session.ErrNotInfected, http.StatusConflict},
		{fmt.Errorf("submit: %w", session.ErrResponding), http.StatusConflict},
		{session.ErrEmptyInput, http.StatusBadRequest},
		{&speech.STTError{Provider: "openai", Code: "empty_transcript"}, http.StatusUnprocessableEntity},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteSSE(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := writeSSE(&buf, "token", `{"text":"こんにちは"}`); err != nil {
		t.Fatalf("writeSSE failed: %v", err)
	}
	want := "event: token\ndata: {\"text\":\"こんにちは\"}\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected SSE frame: %q", buf.String())
	}
}

func TestSSEStreamDefersHeaders(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	stream, ok := newSSEStream(w, nil)
	if !ok {
		t.Fatal("recorder should support flushing")
	}
	if w.Header().Get("Content-Type") != "" {
		t.Fatal("headers must not be written before the first event")
	}

	stream.send("done", map[string]int{"segments": 2})
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected response: %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if got := w.Body.String(); got != "event: done\ndata: {\"segments\":2}\n\n" {
		t.Fatalf("unexpected body: %q", got)
	}
}

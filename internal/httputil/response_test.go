package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"packets": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["packets"] != 42 {
		t.Errorf("packets = %d, want 42", resp["packets"])
	}
}

func TestAllowMethods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method    string
		wantOK    bool
		wantAllow string
	}{
		{http.MethodGet, true, ""},
		{http.MethodPost, true, ""},
		{http.MethodDelete, false, "GET, POST"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(tt.method, "/debug/playback", nil)

		if got := AllowMethods(rec, req, http.MethodGet, http.MethodPost); got != tt.wantOK {
			t.Errorf("%s: AllowMethods = %v, want %v", tt.method, got, tt.wantOK)
		}
		if tt.wantOK {
			continue
		}
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: status = %d, want 405", tt.method, rec.Code)
		}
		if got := rec.Header().Get("Allow"); got != tt.wantAllow {
			t.Errorf("%s: Allow = %q, want %q", tt.method, got, tt.wantAllow)
		}
	}
}

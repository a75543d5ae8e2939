package apiresp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusServiceUnavailable, "", map[string]string{"db": "down"})

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var env Envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.OK || env.Error == nil || env.Error.Code != "unavailable" || env.Error.Message != "Service Unavailable" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestWriteOK(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteOK(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK, map[string]string{"status": "ok"})

	var env struct {
		OK   bool              `json:"ok"`
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.OK || env.Data["status"] != "ok" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
}

package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealth(t *testing.T) {
	h := NewHandlers("voxgate", "nova-2", "1.0.0", func() int { return 3 })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Service != "voxgate" || resp.Model != "nova-2" {
		t.Errorf("unexpected body: %+v", resp)
	}
	if resp.Sessions != 3 {
		t.Errorf("sessions = %d", resp.Sessions)
	}
	if resp.RequestID == "" || resp.Timestamp == "" {
		t.Error("request id and timestamp must be populated")
	}
}

func TestHealthNilSessions(t *testing.T) {
	h := NewHandlers("voxgate", "nova-2", "1.0.0", nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sessions != 0 {
		t.Errorf("sessions = %d", resp.Sessions)
	}
}

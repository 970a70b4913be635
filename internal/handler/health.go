// Package handler provides the HTTP endpoints that sit alongside the
// WebSocket relay.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Service string
	Model   string
	Version string

	Sessions func() int
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(service, model, version string, sessions func() int) *Handlers {
	return &Handlers{Service: service, Model: model, Version: version, Sessions: sessions}
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Model     string `json:"model"`
	Version   string `json:"version"`
	Sessions  int    `json:"sessions"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Service:   h.Service,
		Model:     h.Model,
		Version:   h.Version,
		RequestID: uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.Sessions != nil {
		resp.Sessions = h.Sessions()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

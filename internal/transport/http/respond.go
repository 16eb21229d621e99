package http

import (
	"encoding/json"
	"net/http"
)

// errorResp is the uniform error envelope for every non-2xx response.
type errorResp struct {
	Status  string `json:"status"` // always "error"
	Message string `json:"message"`
}

// acceptedResp acknowledges an ingested event. Delivery happens
// asynchronously; the response only confirms classification and enqueue.
type acceptedResp struct {
	Status    string `json:"status"` // always "ok"
	Queued    bool   `json:"queued"`
	Lane      string `json:"lane"`
	MessageID string `json:"message_id"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResp{Status: "error", Message: msg})
}

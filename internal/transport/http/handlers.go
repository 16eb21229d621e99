package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/warelay/warelay/internal/auth"
	"github.com/warelay/warelay/internal/broadcast"
	"github.com/warelay/warelay/internal/dispatch"
	"github.com/warelay/warelay/internal/metrics"
	"github.com/warelay/warelay/internal/normalize"
	"github.com/warelay/warelay/internal/queue"
	"github.com/warelay/warelay/internal/store"
	"github.com/warelay/warelay/internal/types"
)

var startTime = time.Now()

// Handler carries the ingestion pipeline collaborators for all routes.
type Handler struct {
	webhookGate  *auth.Gate
	receiverGate *auth.Gate
	norm         *normalize.Normalizer
	disp         *dispatch.Dispatcher
	lanes        *queue.Lanes
	archive      *store.Store
	hub          *broadcast.Hub
	metrics      *metrics.Registry
	instanceID   string
	log          *slog.Logger
}

// ─── Ingestion ────────────────────────────────────────────────────────────────

// webhook ingests upstream push events. The webhook gate accepts the shared
// secret from the X-Webhook-Secret header, an Authorization bearer token, or
// the webhook_secret body field.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, h.webhookGate, "webhook")
}

// events ingests direct API submissions guarded by the receiver API key.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, h.receiverGate, "events")
}

// ingest is the shared intake path: authenticate, normalize, dispatch,
// acknowledge. Delivery happens asynchronously after the 202.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, gate *auth.Gate, endpoint string) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "invalid json: event payload must be a JSON object")
		return
	}

	// The in-band credential never reaches normalization.
	var bodyCred string
	if field := gate.BodyField(); field != "" {
		if v, ok := payload[field].(string); ok {
			bodyCred = v
		}
		delete(payload, field)
	}

	decision, err := gate.Check(r, bodyCred)
	if decision == auth.Reject {
		h.metrics.Rejected.Inc(gate.Name())
		if errors.Is(err, auth.ErrNoSecret) {
			writeError(w, http.StatusServiceUnavailable, "authentication is not configured")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.metrics.Received.Inc(endpoint)

	msg, err := h.norm.Normalize(payload)
	if err != nil {
		var missing *normalize.MissingFieldError
		if errors.As(err, &missing) {
			h.log.Warn("event normalization failed",
				"endpoint", endpoint,
				"missing_field", missing.Field,
				"remote", clientIP(r))
			h.metrics.NormalizeFailures.Inc(missing.Field)
			writeError(w, http.StatusBadRequest, "missing required field: "+missing.Field)
			return
		}
		h.log.Warn("event normalization failed",
			"endpoint", endpoint,
			"remote", clientIP(r),
			"error", err)
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}

	assignment := h.disp.Dispatch(msg)
	writeJSON(w, http.StatusAccepted, acceptedResp{
		Status:    "ok",
		Queued:    true,
		Lane:      assignment.Lane.String(),
		MessageID: msg.ID,
	})
}

// ─── Health ───────────────────────────────────────────────────────────────────

type healthResp struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
	Uptime     string `json:"uptime"`
	UptimeMs   int64  `json:"uptime_ms"`
	Version    string `json:"version"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:     "ok",
		InstanceID: h.instanceID,
		Uptime:     elapsed.Round(time.Second).String(),
		UptimeMs:   elapsed.Milliseconds(),
		Version:    "1.0.0",
	})
}

// ─── Stats ────────────────────────────────────────────────────────────────────

type laneStats struct {
	Depth int `json:"depth"`
}

type statsResp struct {
	Lanes        map[string]laneStats `json:"lanes"`
	Leased       int                  `json:"leased"`
	WaitingRetry int                  `json:"waiting_retry"`
	Archived     int                  `json:"archived"`
	DeadLetters  int                  `json:"dead_letters"`
	WSClients    int                  `json:"ws_clients"`
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	archived, deadLetters, err := h.archive.Counts()
	if err != nil {
		h.log.Error("stats: archive counts failed", "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}

	lanes := make(map[string]laneStats, len(types.AllLanes))
	for _, lane := range types.AllLanes {
		lanes[lane.String()] = laneStats{Depth: h.lanes.Depth(lane)}
	}
	writeJSON(w, http.StatusOK, statsResp{
		Lanes:        lanes,
		Leased:       h.lanes.LeasedCount(),
		WaitingRetry: h.lanes.WaitingRetry(),
		Archived:     archived,
		DeadLetters:  deadLetters,
		WSClients:    h.hub.ClientCount(),
	})
}

// ─── Dead letters ─────────────────────────────────────────────────────────────

type deadLettersResp struct {
	DeadLetters []store.DeadLetter `json:"dead_letters"`
}

// deadLetters exposes the terminal-failure archive for inspection.
// Query param: limit (default 10). There is no replay; a terminal failure is
// final.
func (h *Handler) deadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	dls, err := h.archive.DeadLetters(limit)
	if err != nil {
		h.log.Error("dead letters: read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if dls == nil {
		dls = []store.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, deadLettersResp{DeadLetters: dls})
}

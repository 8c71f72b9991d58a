package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/drowseguard/drowseguard/internal/alerts"
	"github.com/drowseguard/drowseguard/internal/debounce"
	"github.com/drowseguard/drowseguard/internal/history"
	"github.com/drowseguard/drowseguard/internal/monitor"
)

const (
	maxBodyBytes        = 1 << 20
	defaultSessionLimit = 20
	maxSessionLimit     = 500
)

// AlertSource lists firing and recently resolved alerts.
type AlertSource interface {
	Active() []*alerts.Alert
}

// HistoryReader reads finished sessions.
type HistoryReader interface {
	RecentSessions(ctx context.Context, streamID string, limit int) ([]history.SessionRecord, error)
	Episodes(ctx context.Context, sessionID string) ([]history.Episode, error)
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	registry *monitor.Registry
	alerts   AlertSource
	history  HistoryReader // nil when history is disabled
	mux      *http.ServeMux
	now      func() time.Time
}

// New creates a Handler and registers all routes. alertSrc and hist may be
// nil.
func New(reg *monitor.Registry, alertSrc AlertSource, hist HistoryReader) *Handler {
	h := &Handler{
		registry: reg,
		alerts:   alertSrc,
		history:  hist,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/streams", h.listStreams)
	h.mux.HandleFunc("/api/v1/streams/", h.stream) // subtree: {id}[/action]
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/sessions", h.sessions)
	h.mux.HandleFunc("/api/v1/sessions/", h.episodes) // {id}/episodes
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Snapshot builds the payload served at /api/v1/snapshot. The WebSocket hub
// broadcasts the same value.
func (h *Handler) Snapshot() SnapshotResponse {
	now := h.now()
	statuses := h.registry.List()
	streams := make([]StreamResponse, 0, len(statuses))
	for _, s := range statuses {
		streams = append(streams, toStreamResponse(s, now))
	}
	return SnapshotResponse{
		Streams:     streams,
		Alerts:      h.activeAlerts(),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	streams, active, alerting := h.registry.Counts()
	resp := HealthResponse{
		StreamCount:     streams,
		ActiveSessions:  active,
		AlertingStreams: alerting,
		HistoryEnabled:  h.history != nil,
	}
	for _, a := range h.activeAlerts() {
		if a.State == alerts.StateFiring {
			resp.AlertCount++
		}
	}
	switch {
	case alerting > 0:
		resp.State = "alert"
	case active > 0:
		resp.State = "ok"
	default:
		resp.State = "idle"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listStreams returns GET /api/v1/streams.
func (h *Handler) listStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.Snapshot().Streams)
}

// stream dispatches /api/v1/streams/{id} and its actions.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/streams/"), "/")
	if rest == "" {
		h.listStreams(w, r)
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	switch action {
	case "":
		h.getStream(w, r, id)
	case "start":
		h.start(w, r, id)
	case "stop":
		h.stop(w, r, id)
	case "frames":
		h.frames(w, r, id)
	case "settings":
		h.settings(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// getStream returns GET /api/v1/streams/{id}.
func (h *Handler) getStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s, ok := h.registry.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "stream not found")
		return
	}
	jsonResp(w, http.StatusOK, toStreamResponse(s, h.now()))
}

// start handles POST /api/v1/streams/{id}/start. It registers unknown streams,
// answering 201 when a new session began and 200 when one was running.
func (h *Handler) start(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, started, err := h.registry.Start(id)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	code := http.StatusOK
	if started {
		code = http.StatusCreated
	}
	jsonResp(w, code, StartResponse{StreamID: id, Started: started, Session: toSessionResponse(st)})
}

// stop handles POST /api/v1/streams/{id}/stop.
func (h *Handler) stop(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	final, err := h.registry.Stop(id)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, toSessionResponse(final))
}

// frames handles POST /api/v1/streams/{id}/frames.
func (h *Handler) frames(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var in monitor.FrameInput
	if err := decodeBody(r, &in); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.registry.Submit(r.Context(), id, in)
	if err != nil {
		writeRegistryErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, toFrameResponse(id, res))
}

// settings handles GET and PUT /api/v1/streams/{id}/settings.
func (h *Handler) settings(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.registry.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "stream not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, toSettingsBody(s.Settings))

	case http.MethodPut:
		var body SettingsBody
		if err := decodeBody(r, &body); err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		next := s.Settings
		if body.LowThreshold != nil {
			next.LowThreshold = *body.LowThreshold
		}
		if body.RequiredFrames != nil {
			next.RequiredFrames = *body.RequiredFrames
		}
		applied, err := h.registry.ConfigureStream(id, next)
		if err != nil {
			writeRegistryErr(w, err)
			return
		}
		slog.Info("api: stream settings changed",
			"stream", id,
			"low_threshold", applied.LowThreshold,
			"required_frames", applied.RequiredFrames)
		jsonResp(w, http.StatusOK, toSettingsBody(applied))

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.activeAlerts())
}

// sessions returns GET /api/v1/sessions?stream=&limit=.
func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSessionLimit)
	}
	if h.history == nil {
		jsonResp(w, http.StatusOK, SessionsResponse{Sessions: []history.SessionRecord{}})
		return
	}
	recs, err := h.history.RecentSessions(r.Context(), r.URL.Query().Get("stream"), limit)
	if err != nil {
		slog.Error("api: list sessions", "err", err)
		jsonErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if recs == nil {
		recs = []history.SessionRecord{}
	}
	jsonResp(w, http.StatusOK, SessionsResponse{Sessions: recs})
}

// episodes returns GET /api/v1/sessions/{id}/episodes.
func (h *Handler) episodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		h.sessions(w, r)
		return
	}
	if action != "episodes" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if h.history == nil {
		jsonResp(w, http.StatusOK, []history.Episode{})
		return
	}
	eps, err := h.history.Episodes(r.Context(), id)
	if err != nil {
		slog.Error("api: list episodes", "session", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if eps == nil {
		eps = []history.Episode{}
	}
	jsonResp(w, http.StatusOK, eps)
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.Snapshot())
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) activeAlerts() []*alerts.Alert {
	if h.alerts == nil {
		return []*alerts.Alert{}
	}
	out := h.alerts.Active()
	if out == nil {
		out = []*alerts.Alert{}
	}
	return out
}

func toSettingsBody(s debounce.Settings) SettingsBody {
	return SettingsBody{LowThreshold: &s.LowThreshold, RequiredFrames: &s.RequiredFrames}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeRegistryErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrUnknownStream):
		jsonErr(w, http.StatusNotFound, "stream not found")
	case errors.Is(err, monitor.ErrInvalidStreamID):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api: registry error", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

package api

import (
	"time"

	"github.com/drowseguard/drowseguard/internal/alerts"
	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/history"
	"github.com/drowseguard/drowseguard/internal/monitor"
	"github.com/drowseguard/drowseguard/internal/session"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State           string `json:"state"` // idle | ok | alert
	StreamCount     int    `json:"stream_count"`
	ActiveSessions  int    `json:"active_sessions"`
	AlertingStreams int    `json:"alerting_streams"`
	AlertCount      int    `json:"alert_count"`
	HistoryEnabled  bool   `json:"history_enabled"`
}

// SettingsBody is the payload of GET and PUT /api/v1/streams/{id}/settings.
// Omitted fields keep their current value on PUT.
type SettingsBody struct {
	LowThreshold   *float64 `json:"low_threshold,omitempty"`
	RequiredFrames *int     `json:"required_frames,omitempty"`
}

// SessionResponse describes a session in start/stop responses and in
// stream entries.
type SessionResponse struct {
	SessionID        string `json:"session_id,omitempty"`
	Active           bool   `json:"active"`
	StartedAt        string `json:"started_at,omitempty"` // RFC3339
	Elapsed          string `json:"elapsed"`              // HH:MM:SS
	ElapsedSeconds   int64  `json:"elapsed_seconds"`
	AlertTransitions int    `json:"alert_transitions"`
	Frames           int64  `json:"frames"`
	AlertFrames      int64  `json:"alert_frames"`
	LastAlertAt      string `json:"last_alert_at,omitempty"` // RFC3339
}

// StartResponse is the payload for POST /api/v1/streams/{id}/start.
type StartResponse struct {
	StreamID string          `json:"stream_id"`
	Started  bool            `json:"started"`
	Session  SessionResponse `json:"session"`
}

// StreamResponse is one stream in GET /api/v1/streams or
// GET /api/v1/streams/{id}.
type StreamResponse struct {
	StreamID       string           `json:"stream_id"`
	Classifier     string           `json:"classifier"`
	Alert          bool             `json:"alert"`
	Openness       float64          `json:"openness"`
	Confidence     string           `json:"confidence"`
	LowFrames      int              `json:"low_frames"`
	Frame          uint64           `json:"frame"`
	LowThreshold   float64          `json:"low_threshold"`
	RequiredFrames int              `json:"required_frames"`
	Session        SessionResponse  `json:"session"`
	Diagnostics    []DiagnosticHint `json:"diagnostics"`
	LastSeen       string           `json:"last_seen"` // RFC3339
}

// FrameResponse is the payload for POST /api/v1/streams/{id}/frames.
type FrameResponse struct {
	StreamID     string          `json:"stream_id"`
	Frame        uint64          `json:"frame"`
	Alert        bool            `json:"alert"`
	Openness     float64         `json:"openness"`
	Confidence   string          `json:"confidence"`
	LowFrames    int             `json:"low_frames"`
	AlertStarted bool            `json:"alert_started"`
	AlertCleared bool            `json:"alert_cleared"`
	Session      SessionResponse `json:"session"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the WebSocket
// broadcast.
type SnapshotResponse struct {
	Streams     []StreamResponse `json:"streams"`
	Alerts      []*alerts.Alert  `json:"alerts"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// SessionsResponse is the payload for GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []history.SessionRecord `json:"sessions"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toSessionResponse(st session.Stats) SessionResponse {
	return SessionResponse{
		SessionID:        st.SessionID,
		Active:           st.Active,
		StartedAt:        rfc3339(st.StartedAt),
		Elapsed:          session.FormatElapsed(st.Elapsed),
		ElapsedSeconds:   int64(st.Elapsed / time.Second),
		AlertTransitions: st.AlertTransitions,
		Frames:           st.Frames,
		AlertFrames:      st.AlertFrames,
		LastAlertAt:      rfc3339(st.LastAlertAt),
	}
}

func toStreamResponse(s monitor.Status, now time.Time) StreamResponse {
	return StreamResponse{
		StreamID:       s.StreamID,
		Classifier:     s.Classifier,
		Alert:          s.Last.Alert,
		Openness:       s.Last.Openness,
		Confidence:     s.Last.Confidence.String(),
		LowFrames:      s.Last.LowFrames,
		Frame:          s.Last.Frame,
		LowThreshold:   s.Settings.LowThreshold,
		RequiredFrames: s.Settings.RequiredFrames,
		Session:        toSessionResponse(s.Last.Stats),
		Diagnostics:    computeDiagnostics(s, now),
		LastSeen:       rfc3339(s.LastSeen),
	}
}

func toFrameResponse(id string, res engine.FrameResult) FrameResponse {
	return FrameResponse{
		StreamID:     id,
		Frame:        res.Frame,
		Alert:        res.Alert,
		Openness:     res.Openness,
		Confidence:   res.Confidence.String(),
		LowFrames:    res.LowFrames,
		AlertStarted: res.AlertStarted,
		AlertCleared: res.AlertCleared,
		Session:      toSessionResponse(res.Stats),
	}
}

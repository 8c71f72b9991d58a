package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/metrics"
	"github.com/drowseguard/drowseguard/internal/ocular"
	"github.com/drowseguard/drowseguard/internal/session"
)

// serverText is a hand-written exposition in the server's naming.
const serverText = `
# HELP drowseguard_frames_total Frames processed.
# TYPE drowseguard_frames_total counter
drowseguard_frames_total{confidence="full"} 90
drowseguard_frames_total{confidence="partial"} 6
drowseguard_frames_total{confidence="none"} 4

# TYPE drowseguard_alert_transitions_total counter
drowseguard_alert_transitions_total{stream="cab-1"} 2
drowseguard_alert_transitions_total{stream="cab-2"} 5
drowseguard_alert_transitions_total{stream="cab-3"} 2

# TYPE drowseguard_streams gauge
drowseguard_streams 3
# TYPE drowseguard_active_sessions gauge
drowseguard_active_sessions 2
# TYPE drowseguard_alerting_streams gauge
drowseguard_alerting_streams 1

# TYPE drowseguard_session_duration_seconds histogram
drowseguard_session_duration_seconds_bucket{le="60"} 1
drowseguard_session_duration_seconds_bucket{le="+Inf"} 4
drowseguard_session_duration_seconds_sum 1200
drowseguard_session_duration_seconds_count 4
`

type counts struct{ streams, active, alerting int }

func (c counts) Counts() (int, int, int) { return c.streams, c.active, c.alerting }

func TestSummarize_ServerText(t *testing.T) {
	mfs, err := parseMetrics(strings.NewReader(serverText))
	if err != nil {
		t.Fatalf("parseMetrics: %v", err)
	}
	s := Summarize(mfs)

	if s.Streams != 3 || s.ActiveSessions != 2 || s.AlertingStreams != 1 {
		t.Errorf("gauges = %v/%v/%v, want 3/2/1", s.Streams, s.ActiveSessions, s.AlertingStreams)
	}
	if got := s.TotalFrames(); got != 100 {
		t.Errorf("TotalFrames = %v, want 100", got)
	}
	if s.Frames["partial"] != 6 {
		t.Errorf("Frames[partial] = %v, want 6", s.Frames["partial"])
	}
	if s.SessionsEnded != 4 || s.MeanSessionSeconds != 300 {
		t.Errorf("sessions = %d mean %v, want 4 mean 300", s.SessionsEnded, s.MeanSessionSeconds)
	}
	if s.HistoryDropped != 0 {
		t.Errorf("HistoryDropped = %v, want 0 for missing family", s.HistoryDropped)
	}

	top := s.TopStreams(2)
	if len(top) != 2 || top[0] != "cab-2" || top[1] != "cab-1" {
		t.Errorf("TopStreams(2) = %v, want [cab-2 cab-1]", top)
	}
}

func TestParseMetrics_Garbage(t *testing.T) {
	if _, err := parseMetrics(strings.NewReader("{{{ not metrics")); err == nil {
		t.Error("expected error for unparseable input")
	}
}

func TestSumFamily_Nil(t *testing.T) {
	if got := sumFamily(nil); got != 0 {
		t.Errorf("sumFamily(nil) = %v, want 0", got)
	}
}

func TestFetch_LiveRegistry(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), counts{streams: 2, active: 1, alerting: 1})
	m.FrameProcessed("cab-1", engine.FrameResult{Confidence: ocular.ConfidenceFull, Openness: 0.8})
	m.FrameProcessed("cab-1", engine.FrameResult{
		Confidence:   ocular.ConfidenceNone,
		AlertStarted: true,
		Stats:        session.Stats{Active: true},
	})
	m.SessionStopped("cab-1", session.Stats{Elapsed: 90 * time.Second})
	m.HistoryDropped()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	s, err := New(srv.URL, "", "").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.Streams != 2 || s.AlertingStreams != 1 {
		t.Errorf("gauges = %v/%v, want 2/1", s.Streams, s.AlertingStreams)
	}
	if s.Frames["full"] != 1 || s.Frames["none"] != 1 {
		t.Errorf("Frames = %v", s.Frames)
	}
	if s.AlertTransitions["cab-1"] != 1 {
		t.Errorf("AlertTransitions = %v", s.AlertTransitions)
	}
	if s.SessionsEnded != 1 || s.MeanSessionSeconds != 90 {
		t.Errorf("sessions = %d mean %v, want 1 mean 90", s.SessionsEnded, s.MeanSessionSeconds)
	}
	if s.HistoryDropped != 1 {
		t.Errorf("HistoryDropped = %v, want 1", s.HistoryDropped)
	}
	if s.MeanOpenness != 0.4 {
		t.Errorf("MeanOpenness = %v, want 0.4", s.MeanOpenness)
	}
}

func TestFetch_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k3y" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(serverText))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "x-api-key", "k3y").Fetch(context.Background()); err != nil {
		t.Errorf("Fetch with key: %v", err)
	}
	if _, err := New(srv.URL, "", "").Fetch(context.Background()); err == nil {
		t.Error("Fetch without key should fail on 401")
	}
}

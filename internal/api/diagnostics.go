package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/drowseguard/drowseguard/internal/monitor"
	"github.com/drowseguard/drowseguard/internal/ocular"
)

const (
	staleAfter        = 10 * time.Second
	longSession       = 2 * time.Hour
	frequentAlerts    = 3
	nearAlertFraction = 0.5
)

// DiagnosticHint is one human-readable insight about a stream, shown as a
// chip on the stream card.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical".
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2}

// computeDiagnostics derives hints from a stream status, critical first.
func computeDiagnostics(s monitor.Status, now time.Time) []DiagnosticHint {
	hints := []DiagnosticHint{}
	last := s.Last
	st := last.Stats

	if !st.Active {
		hints = append(hints, DiagnosticHint{
			Key:   "standby",
			Level: "info",
			Title: "Standby",
			Detail: "No monitoring session is running on this stream. Frames are still " +
				"classified but alerts are not counted until a session is started.",
		})
	}

	if !s.LastSeen.IsZero() && now.Sub(s.LastSeen) > staleAfter && st.Active {
		hints = append(hints, DiagnosticHint{
			Key:   "no_frames",
			Level: "warning",
			Title: "No recent frames",
			Detail: fmt.Sprintf("The last frame arrived %s ago. Check that the camera "+
				"and the detector are still running.", now.Sub(s.LastSeen).Round(time.Second)),
		})
	}

	if last.Alert {
		hints = append(hints, DiagnosticHint{
			Key:   "drowsy",
			Level: "critical",
			Title: "Drowsiness alert",
			Detail: fmt.Sprintf("Eyes have read as closed or undetected for %d consecutive "+
				"frames (alert at %d).", last.LowFrames, s.Settings.RequiredFrames),
		})
	} else if s.Settings.RequiredFrames > 0 &&
		float64(last.LowFrames) >= nearAlertFraction*float64(s.Settings.RequiredFrames) {
		hints = append(hints, DiagnosticHint{
			Key:   "eyes_closing",
			Level: "warning",
			Title: "Eyes closing",
			Detail: fmt.Sprintf("%d of the %d closed frames needed for an alert have "+
				"already been seen.", last.LowFrames, s.Settings.RequiredFrames),
		})
	}

	if last.Frame > 0 && !last.Alert {
		switch last.Confidence {
		case ocular.ConfidenceNone:
			hints = append(hints, DiagnosticHint{
				Key:   "no_face",
				Level: "warning",
				Title: "Face not detected",
				Detail: "The detector found no face in the latest frame. Undetected frames " +
					"count toward the alert like closed eyes; check lighting and camera angle.",
			})
		case ocular.ConfidencePartial:
			hints = append(hints, DiagnosticHint{
				Key:   "one_eye",
				Level: "info",
				Title: "Only one eye visible",
				Detail: "Partial detections always count as closed frames. Re-center the " +
					"camera so both eyes are visible.",
			})
		}
	}

	if st.AlertTransitions >= frequentAlerts {
		hints = append(hints, DiagnosticHint{
			Key:   "frequent_alerts",
			Level: "warning",
			Title: fmt.Sprintf("%d alerts this session", st.AlertTransitions),
			Detail: "Repeated drowsiness episodes in one session are a strong sign of " +
				"fatigue. The driver should stop and rest.",
		})
	}

	if st.Active && st.Elapsed >= longSession {
		hints = append(hints, DiagnosticHint{
			Key:    "long_session",
			Level:  "info",
			Title:  "Long session",
			Detail: fmt.Sprintf("This session has been running for %s. Plan a break.", st.Elapsed.Round(time.Minute)),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

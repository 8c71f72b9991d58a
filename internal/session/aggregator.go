package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stats is a read-only copy of the session counters.
type Stats struct {
	SessionID        string        `json:"session_id,omitempty"`
	Active           bool          `json:"active"`
	StartedAt        time.Time     `json:"started_at"`
	Elapsed          time.Duration `json:"elapsed"`
	AlertTransitions int           `json:"alert_transitions"`
	Frames           int64         `json:"frames"`
	AlertFrames      int64         `json:"alert_frames"`
	LastAlertAt      time.Time     `json:"last_alert_at"`
}

// Aggregator tracks one session. All methods are safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	now   func() time.Time // injectable for deterministic tests
	newID func() string

	active      bool
	id          string
	startedAt   time.Time
	transitions int
	frames      int64
	alertFrames int64
	lastAlertAt time.Time
	prevAlert   bool
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithIDs overrides the session ID generator (UUIDv4 by default).
func WithIDs(newID func() string) Option {
	return func(a *Aggregator) { a.newID = newID }
}

// New returns an inactive Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start begins a new session. It is a no-op returning false when a session is
// already active.
func (a *Aggregator) Start() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return false
	}
	a.reset()
	a.active = true
	a.id = a.newID()
	a.startedAt = a.now()
	return true
}

// Stop ends the session and returns its final stats. The session cannot be
// resumed. Stopping an inactive aggregator returns zero Stats.
func (a *Aggregator) Stop() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	final := a.snapshotLocked()
	a.reset()
	return final
}

// Observe records the alert flag of one frame. It returns true when this
// observation is a rising edge that was counted as a new transition.
// Observations outside an active session are ignored.
func (a *Aggregator) Observe(alert bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return false
	}
	a.frames++
	rising := alert && !a.prevAlert
	a.prevAlert = alert
	if alert {
		a.alertFrames++
	}
	if rising {
		a.transitions++
		a.lastAlertAt = a.now()
	}
	return rising
}

// Active reports whether a session is running.
func (a *Aggregator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Snapshot returns the current stats with Elapsed computed against now.
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Stats {
	if !a.active {
		return Stats{}
	}
	elapsed := a.now().Sub(a.startedAt)
	if elapsed < 0 {
		elapsed = 0 // clock stepped backwards
	}
	return Stats{
		SessionID:        a.id,
		Active:           true,
		StartedAt:        a.startedAt,
		Elapsed:          elapsed,
		AlertTransitions: a.transitions,
		Frames:           a.frames,
		AlertFrames:      a.alertFrames,
		LastAlertAt:      a.lastAlertAt,
	}
}

func (a *Aggregator) reset() {
	a.active = false
	a.id = ""
	a.startedAt = time.Time{}
	a.transitions = 0
	a.frames = 0
	a.alertFrames = 0
	a.lastAlertAt = time.Time{}
	a.prevAlert = false
}

// FormatElapsed renders d as HH:MM:SS, the session timer format shown to
// drivers. Hours are not wrapped.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

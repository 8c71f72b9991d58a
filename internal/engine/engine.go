package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/drowseguard/drowseguard/internal/debounce"
	"github.com/drowseguard/drowseguard/internal/ocular"
	"github.com/drowseguard/drowseguard/internal/session"
)

// FrameResult is the outcome of one ProcessFrame call.
type FrameResult struct {
	Frame      uint64            `json:"frame"` // 1-based count of frames seen by this engine
	Alert      bool              `json:"alert"`
	Openness   float64           `json:"openness"`
	Confidence ocular.Confidence `json:"confidence"`
	LowFrames  int               `json:"low_frames"`

	// AlertStarted and AlertCleared mark the rising and falling edges of
	// Alert on this frame.
	AlertStarted bool `json:"alert_started"`
	AlertCleared bool `json:"alert_cleared"`

	Stats session.Stats `json:"stats"`
}

// Engine is the facade for one monitored stream.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	machine *debounce.Machine
	agg     *session.Aggregator
	frames  uint64
	last    FrameResult
}

// New returns an Engine with the given settings and an inactive session.
// opts are forwarded to the session aggregator.
func New(settings debounce.Settings, opts ...session.Option) *Engine {
	return &Engine{
		machine: debounce.New(settings),
		agg:     session.New(opts...),
	}
}

// ProcessFrame feeds one sample through the state machine and the session
// aggregator and returns the combined result.
func (e *Engine) ProcessFrame(sample ocular.Sample) FrameResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasAlert := e.machine.State().Alert
	alert, openness := e.machine.Update(sample)
	e.agg.Observe(alert)

	e.frames++
	e.last = FrameResult{
		Frame:        e.frames,
		Alert:        alert,
		Openness:     openness,
		Confidence:   sample.Confidence,
		LowFrames:    e.machine.State().LowFrames,
		AlertStarted: alert && !wasAlert,
		AlertCleared: !alert && wasAlert,
		Stats:        e.agg.Snapshot(),
	}
	return e.last
}

// Start begins a monitoring session. It returns the session stats and
// whether a new session was started (false if one was already running).
func (e *Engine) Start() (session.Stats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	started := e.agg.Start()
	st := e.agg.Snapshot()
	if started {
		slog.Debug("engine: session started", "session", st.SessionID)
	}
	return st, started
}

// Stop ends the session, returning its final stats, and resets the debounce
// state so the next session starts from a clean counter.
func (e *Engine) Stop() session.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	final := e.agg.Stop()
	e.machine.Reset()
	e.last = FrameResult{}
	if final.Active {
		slog.Debug("engine: session stopped",
			"session", final.SessionID,
			"elapsed", final.Elapsed.Round(time.Second),
			"alert_transitions", final.AlertTransitions)
	}
	return final
}

// Snapshot returns the current session stats. It does not touch the frame
// path and may be called at any rate.
func (e *Engine) Snapshot() session.Stats {
	return e.agg.Snapshot()
}

// Active reports whether a session is running.
func (e *Engine) Active() bool {
	return e.agg.Active()
}

// Last returns the most recent FrameResult with Stats refreshed to now.
func (e *Engine) Last() FrameResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.last
	out.Stats = e.agg.Snapshot()
	return out
}

// Configure replaces the debounce settings (clamped). Last writer wins.
func (e *Engine) Configure(s debounce.Settings) debounce.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine.Configure(s)
	return e.machine.Settings()
}

// Settings returns the active debounce settings.
func (e *Engine) Settings() debounce.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Settings()
}

// State returns a copy of the debounce state.
func (e *Engine) State() debounce.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.State()
}

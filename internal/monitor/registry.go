package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drowseguard/drowseguard/internal/debounce"
	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/ocular"
	"github.com/drowseguard/drowseguard/internal/session"
)

var (
	// ErrUnknownStream is returned for stream IDs that were never started or
	// have been evicted.
	ErrUnknownStream = errors.New("monitor: unknown stream")

	// ErrInvalidStreamID is returned for an empty stream ID.
	ErrInvalidStreamID = errors.New("monitor: stream id is required")
)

// Observer receives engine outputs. Calls happen on the frame path.
type Observer interface {
	FrameProcessed(streamID string, res engine.FrameResult)
	SessionStopped(streamID string, final session.Stats)
}

// Status is a read-only view of one stream.
type Status struct {
	StreamID   string             `json:"stream_id"`
	Classifier string             `json:"classifier"`
	Settings   debounce.Settings  `json:"settings"`
	Last       engine.FrameResult `json:"last"`
	LastSeen   time.Time          `json:"last_seen"`
}

type stream struct {
	id         string
	engine     *engine.Engine
	classifier ocular.Classifier
	lastSeen   atomic.Int64 // unix nanoseconds
}

func (s *stream) touch(t time.Time) { s.lastSeen.Store(t.UnixNano()) }

func (s *stream) seen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *stream) status() Status {
	return Status{
		StreamID:   s.id,
		Classifier: s.classifier.Name(),
		Settings:   s.engine.Settings(),
		Last:       s.engine.Last(),
		LastSeen:   s.seen().UTC(),
	}
}

// Registry is a thread-safe set of per-stream engines.
type Registry struct {
	mu            sync.RWMutex
	streams       map[string]*stream
	settings      debounce.Settings
	ttl           time.Duration
	newClassifier func() ocular.Classifier
	observers     []Observer
	now           func() time.Time // injectable for deterministic tests
}

// New creates a Registry. settings apply to streams created from now on;
// newClassifier is called once per stream.
func New(ttl time.Duration, settings debounce.Settings, newClassifier func() ocular.Classifier) *Registry {
	return &Registry{
		streams:       make(map[string]*stream),
		settings:      settings.Clamp(),
		ttl:           ttl,
		newClassifier: newClassifier,
		now:           time.Now,
	}
}

// AddObserver registers o. It must be called before frames are processed.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// TTL returns the idle timeout after which streams are evicted.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Start registers the stream if needed and starts a session on it. started is
// false when the session was already running.
func (r *Registry) Start(id string) (st session.Stats, started bool, err error) {
	if id == "" {
		return session.Stats{}, false, ErrInvalidStreamID
	}
	r.mu.Lock()
	s, ok := r.streams[id]
	if !ok {
		s = &stream{
			id:         id,
			engine:     engine.New(r.settings, session.WithClock(r.clock)),
			classifier: r.newClassifier(),
		}
		r.streams[id] = s
		slog.Info("registry: stream registered", "stream", id, "classifier", s.classifier.Name())
	}
	s.touch(r.now())
	r.mu.Unlock()

	st, started = s.engine.Start()
	if started {
		slog.Info("registry: session started", "stream", id, "session", st.SessionID)
	}
	return st, started, nil
}

// Stop ends the stream's session and returns its final stats. The stream
// stays registered in standby until evicted or restarted.
func (r *Registry) Stop(id string) (session.Stats, error) {
	s, err := r.lookup(id)
	if err != nil {
		return session.Stats{}, err
	}
	return r.stop(s), nil
}

func (r *Registry) stop(s *stream) session.Stats {
	final := s.engine.Stop()
	if !final.Active {
		return final
	}
	slog.Info("registry: session stopped",
		"stream", s.id,
		"session", final.SessionID,
		"elapsed", session.FormatElapsed(final.Elapsed),
		"alert_transitions", final.AlertTransitions)
	for _, o := range r.observerList() {
		o.SessionStopped(s.id, final)
	}
	return final
}

// Process classifies frame with the stream's classifier and feeds the sample
// to its engine.
func (r *Registry) Process(ctx context.Context, id string, frame ocular.Frame) (engine.FrameResult, error) {
	s, err := r.lookup(id)
	if err != nil {
		return engine.FrameResult{}, err
	}
	return r.process(s, s.classifier.Classify(ctx, frame)), nil
}

// ProcessSample feeds an already classified sample to the stream's engine.
func (r *Registry) ProcessSample(id string, sample ocular.Sample) (engine.FrameResult, error) {
	s, err := r.lookup(id)
	if err != nil {
		return engine.FrameResult{}, err
	}
	return r.process(s, sample), nil
}

func (r *Registry) process(s *stream, sample ocular.Sample) engine.FrameResult {
	res := s.engine.ProcessFrame(sample)
	s.touch(r.now())
	if res.AlertStarted {
		slog.Warn("registry: drowsiness alert raised",
			"stream", s.id, "low_frames", res.LowFrames, "openness", res.Openness)
	} else if res.AlertCleared {
		slog.Info("registry: drowsiness alert cleared", "stream", s.id)
	}
	for _, o := range r.observerList() {
		o.FrameProcessed(s.id, res)
	}
	return res
}

// Configure sets the default settings and applies them to every stream.
// It returns the clamped settings actually in effect.
func (r *Registry) Configure(settings debounce.Settings) debounce.Settings {
	settings = settings.Clamp()
	r.mu.Lock()
	r.settings = settings
	targets := make([]*stream, 0, len(r.streams))
	for _, s := range r.streams {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.engine.Configure(settings)
	}
	slog.Info("registry: settings applied",
		"streams", len(targets),
		"low_threshold", settings.LowThreshold,
		"required_frames", settings.RequiredFrames)
	return settings
}

// ConfigureStream changes the settings of a single stream.
func (r *Registry) ConfigureStream(id string, settings debounce.Settings) (debounce.Settings, error) {
	s, err := r.lookup(id)
	if err != nil {
		return debounce.Settings{}, err
	}
	return s.engine.Configure(settings), nil
}

// Get returns the status of one stream.
func (r *Registry) Get(id string) (Status, bool) {
	s, err := r.lookup(id)
	if err != nil {
		return Status{}, false
	}
	return s.status(), true
}

// Snapshot returns the current session stats of one stream.
func (r *Registry) Snapshot(id string) (session.Stats, error) {
	s, err := r.lookup(id)
	if err != nil {
		return session.Stats{}, err
	}
	return s.engine.Snapshot(), nil
}

// List returns the status of every registered stream, ordered by ID.
func (r *Registry) List() []Status {
	r.mu.RLock()
	targets := make([]*stream, 0, len(r.streams))
	for _, s := range r.streams {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(targets))
	for _, s := range targets {
		out = append(out, s.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// Counts returns the number of registered streams, streams with an active
// session, and streams currently alerting.
func (r *Registry) Counts() (streams, active, alerting int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.streams {
		if s.engine.Active() {
			active++
		}
		if s.engine.State().Alert {
			alerting++
		}
	}
	return len(r.streams), active, alerting
}

// Evict stops and removes streams that have not been seen within the TTL.
// It returns the number of streams removed.
func (r *Registry) Evict(now time.Time) int {
	cutoff := now.Add(-r.ttl)
	r.mu.Lock()
	var stale []*stream
	for id, s := range r.streams {
		if !s.seen().After(cutoff) {
			stale = append(stale, s)
			delete(r.streams, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.stop(s)
		slog.Info("registry: idle stream evicted", "stream", s.id)
	}
	return len(stale)
}

// Run starts the background eviction loop. It ticks at half the TTL (minimum
// one second) and blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := r.Evict(now); n > 0 {
				slog.Debug("registry: evicted idle streams", "count", n)
			}
		}
	}
}

func (r *Registry) lookup(id string) (*stream, error) {
	if id == "" {
		return nil, ErrInvalidStreamID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	if !ok {
		return nil, ErrUnknownStream
	}
	return s, nil
}

func (r *Registry) observerList() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observers
}

func (r *Registry) clock() time.Time { return r.now() }

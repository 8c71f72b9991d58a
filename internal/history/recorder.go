package history

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/session"
)

const (
	writeTimeout      = 5 * time.Second
	maxWriteAttempts  = 3
	backoffInitial    = 500 * time.Millisecond
	backoffMax        = 10 * time.Second
	backoffMultiplier = 2.0
)

// record is one queued write. Exactly one field is set.
type record struct {
	session *SessionRecord
	episode *Episode
}

func (r record) write(ctx context.Context, s *Store) error {
	if r.session != nil {
		return s.InsertSession(ctx, *r.session)
	}
	return s.InsertEpisode(ctx, *r.episode)
}

// Recorder queues history writes from the frame path and drains them in Run.
type Recorder struct {
	store   *Store
	queue   chan record
	onDrop  func()
	newID   func() string
	backoff time.Duration // initial retry wait; injectable for tests
}

// NewRecorder creates a Recorder with a queue of size entries. onDrop, if
// non-nil, is called for every record evicted from a full queue.
func NewRecorder(store *Store, size int, onDrop func()) *Recorder {
	if size <= 0 {
		size = 1
	}
	return &Recorder{
		store:   store,
		queue:   make(chan record, size),
		onDrop:  onDrop,
		newID:   uuid.NewString,
		backoff: backoffInitial,
	}
}

// FrameProcessed queues an alert episode on every rising edge inside a
// session.
func (r *Recorder) FrameProcessed(streamID string, res engine.FrameResult) {
	if !res.AlertStarted || !res.Stats.Active {
		return
	}
	at := res.Stats.LastAlertAt
	if at.IsZero() {
		at = time.Now()
	}
	r.enqueue(record{episode: &Episode{
		ID:        r.newID(),
		SessionID: res.Stats.SessionID,
		StreamID:  streamID,
		StartedAt: at,
		LowFrames: res.LowFrames,
		Openness:  res.Openness,
	}})
}

// SessionStopped queues the finished session.
func (r *Recorder) SessionStopped(streamID string, final session.Stats) {
	if final.SessionID == "" {
		return
	}
	r.enqueue(record{session: &SessionRecord{
		ID:               final.SessionID,
		StreamID:         streamID,
		StartedAt:        final.StartedAt,
		EndedAt:          final.StartedAt.Add(final.Elapsed),
		Elapsed:          final.Elapsed,
		AlertTransitions: final.AlertTransitions,
		Frames:           final.Frames,
		AlertFrames:      final.AlertFrames,
	}})
}

// enqueue never blocks. When the queue is full the oldest record is evicted.
func (r *Recorder) enqueue(rec record) {
	for {
		select {
		case r.queue <- rec:
			return
		default:
		}
		select {
		case <-r.queue:
			slog.Warn("history: queue full, dropped oldest record", "queue_cap", cap(r.queue))
			if r.onDrop != nil {
				r.onDrop()
			}
		default:
		}
	}
}

// Pending returns the number of queued records.
func (r *Recorder) Pending() int { return len(r.queue) }

// Run writes queued records until ctx is cancelled, then flushes what is
// left with a short deadline.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case rec := <-r.queue:
			r.write(ctx, rec)
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

// write stores rec, retrying with backoff. A record that still fails after
// maxWriteAttempts is logged and discarded.
func (r *Recorder) write(ctx context.Context, rec record) {
	bo := &backoff{current: r.backoff}
	for attempt := 1; ; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := rec.write(wctx, r.store)
		cancel()
		if err == nil {
			return
		}
		if attempt >= maxWriteAttempts || ctx.Err() != nil {
			slog.Error("history: write failed, record discarded", "attempts", attempt, "err", err)
			return
		}
		wait := bo.next()
		slog.Warn("history: write failed, will retry", "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

// next returns the current wait with ±25% jitter and advances the state.
func (b *backoff) next() time.Duration {
	d := b.current
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

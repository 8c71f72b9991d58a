package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var embedded embed.FS

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Supported backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// SessionRecord is one finished monitoring session.
type SessionRecord struct {
	ID               string        `json:"id"`
	StreamID         string        `json:"stream_id"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          time.Time     `json:"ended_at"`
	Elapsed          time.Duration `json:"elapsed"`
	AlertTransitions int           `json:"alert_transitions"`
	Frames           int64         `json:"frames"`
	AlertFrames      int64         `json:"alert_frames"`
}

// Episode is one alert rising edge within a session.
type Episode struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StreamID  string    `json:"stream_id"`
	StartedAt time.Time `json:"started_at"`
	LowFrames int       `json:"low_frames"`
	Openness  float64   `json:"openness"`
}

// Store reads and writes session history.
type Store struct {
	db      *sql.DB
	backend string
}

// Open connects to the backend, verifies the connection and applies pending
// migrations.
func Open(ctx context.Context, backend, dsn string) (*Store, error) {
	var driver string
	switch backend {
	case BackendSQLite:
		driver = "sqlite"
	case BackendPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("history: unknown backend %q", backend)
	}
	if dsn == "" {
		return nil, fmt.Errorf("history: %s: empty dsn", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", backend, err)
	}
	if backend == BackendSQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping %s: %w", backend, err)
	}

	s := NewStore(db, backend)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing handle. The schema is assumed to be in place.
func NewStore(db *sql.DB, backend string) *Store {
	return &Store{db: db, backend: backend}
}

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if s.backend == BackendPostgres {
		dialect = goose.DialectPostgres
	}
	fsys, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return fmt.Errorf("history: migrations fs: %w", err)
	}
	p, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("history: migration provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// InsertSession stores a finished session.
func (s *Store) InsertSession(ctx context.Context, r SessionRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO sessions
		(id, stream_id, started_at, ended_at, elapsed_ms, alert_transitions, frames, alert_frames)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.StreamID, formatTime(r.StartedAt), formatTime(r.EndedAt),
		r.Elapsed.Milliseconds(), r.AlertTransitions, r.Frames, r.AlertFrames)
	if err != nil {
		return fmt.Errorf("history: insert session %s: %w", r.ID, err)
	}
	return nil
}

// InsertEpisode stores an alert episode.
func (s *Store) InsertEpisode(ctx context.Context, e Episode) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO alert_episodes
		(id, session_id, stream_id, started_at, low_frames, openness)
		VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.SessionID, e.StreamID, formatTime(e.StartedAt), e.LowFrames, e.Openness)
	if err != nil {
		return fmt.Errorf("history: insert episode %s: %w", e.ID, err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first. An empty
// streamID matches every stream.
func (s *Store) RecentSessions(ctx context.Context, streamID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, stream_id, started_at, ended_at, elapsed_ms, alert_transitions, frames, alert_frames
		FROM sessions`
	args := []any{}
	if streamID != "" {
		q += ` WHERE stream_id = ?`
		args = append(args, streamID)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("history: query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r              SessionRecord
			started, ended string
			elapsedMS      int64
		)
		if err := rows.Scan(&r.ID, &r.StreamID, &started, &ended, &elapsedMS,
			&r.AlertTransitions, &r.Frames, &r.AlertFrames); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("history: session %s started_at: %w", r.ID, err)
		}
		if r.EndedAt, err = parseTime(ended); err != nil {
			return nil, fmt.Errorf("history: session %s ended_at: %w", r.ID, err)
		}
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate sessions: %w", err)
	}
	return out, nil
}

// Episodes returns the alert episodes of a session in order.
func (s *Store) Episodes(ctx context.Context, sessionID string) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, session_id, stream_id, started_at, low_frames, openness
		FROM alert_episodes WHERE session_id = ? ORDER BY started_at`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: query episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var (
			e       Episode
			started string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StreamID, &started, &e.LowFrames, &e.Openness); err != nil {
			return nil, fmt.Errorf("history: scan episode: %w", err)
		}
		if e.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("history: episode %s started_at: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate episodes: %w", err)
	}
	return out, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(q string) string {
	if s.backend != BackendPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

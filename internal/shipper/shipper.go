package shipper

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/drowseguard/drowseguard/internal/config"
	"github.com/drowseguard/drowseguard/internal/receiver"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	flushPoll         = 20 * time.Millisecond

	// DefaultBufferSize is used when Options.BufferSize is not positive.
	DefaultBufferSize = 1000
)

// Options configures the connection to the remote server.
type Options struct {
	Endpoint   string
	TLS        bool
	APIKey     string
	Header     string
	BufferSize int
}

func (o Options) header() string {
	if o.Header == "" {
		return config.DefaultAuthHeader
	}
	return o.Header
}

// Shipper buffers frames and forwards them to a MonitorService endpoint.
// Ship() is non-blocking; Run() must be called in a goroutine to drain the
// buffer and handle reconnection.
type Shipper struct {
	opts    Options
	buf     chan *receiver.FrameRequest
	dialFn  dialFunc
	onReply func(*receiver.FrameReply)

	// retry holds a frame that failed on a transient error. Owned by Run.
	retry *receiver.FrameRequest

	shipped   atomic.Int64
	settled   atomic.Int64
	evicted   atomic.Int64
	discarded atomic.Int64
}

// dialFunc opens a gRPC connection. Tests inject a bufconn dialer.
type dialFunc func(ctx context.Context, opts Options) (*grpc.ClientConn, error)

// New creates a Shipper. onReply, when non-nil, is called from the Run
// goroutine for every frame the server accepted.
func New(opts Options, onReply func(*receiver.FrameReply)) *Shipper {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Shipper{
		opts:    opts,
		buf:     make(chan *receiver.FrameRequest, opts.BufferSize),
		dialFn:  Dial,
		onReply: onReply,
	}
}

// Ship enqueues a frame. If the buffer is full the oldest entry is evicted.
func (s *Shipper) Ship(req *receiver.FrameRequest) {
	s.shipped.Add(1)
	select {
	case s.buf <- req:
	default:
		select {
		case old := <-s.buf:
			s.evicted.Add(1)
			s.settled.Add(1)
			slog.Warn("shipper: buffer full, evicted oldest frame",
				"stream", old.StreamID, "buffer_cap", cap(s.buf))
		default:
		}
		s.buf <- req
	}
}

// Stats reports frame counters.
type Stats struct {
	Shipped   int64
	Delivered int64
	Evicted   int64
	Discarded int64
}

// Stats returns a snapshot of the shipper counters.
func (s *Shipper) Stats() Stats {
	ev, dis := s.evicted.Load(), s.discarded.Load()
	return Stats{
		Shipped:   s.shipped.Load(),
		Delivered: s.settled.Load() - ev - dis,
		Evicted:   ev,
		Discarded: dis,
	}
}

// Flush blocks until every shipped frame was delivered, evicted or
// discarded, or ctx is done.
func (s *Shipper) Flush(ctx context.Context) error {
	t := time.NewTicker(flushPoll)
	defer t.Stop()
	for s.settled.Load() < s.shipped.Load() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shipper: flush: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// Run drains the buffer, sending frames to the server. It reconnects with
// exponential backoff when the connection is lost and blocks until ctx is
// cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.opts)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.opts.Endpoint, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("shipper: connected", "endpoint", s.opts.Endpoint)

		err = s.drain(ctx, receiver.NewClient(conn), bo)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.opts.Endpoint, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain sends frames until a transient error occurs or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, client *receiver.Client, bo *backoff) error {
	for {
		req := s.retry
		s.retry = nil
		if req == nil {
			select {
			case <-ctx.Done():
				return nil
			case req = <-s.buf:
			}
		}

		reply, err := s.send(ctx, client, req)
		if err != nil {
			if isPermanentError(err) {
				s.discarded.Add(1)
				s.settled.Add(1)
				slog.Error("shipper: permanent send error, discarding frame",
					"stream", req.StreamID, "err", err)
				continue
			}
			s.retry = req
			return fmt.Errorf("send: %w", err)
		}

		bo.reset()
		if s.onReply != nil {
			s.onReply(reply)
		}
		s.settled.Add(1)
		slog.Debug("shipper: frame delivered", "stream", req.StreamID, "alert", reply.Result.Alert)
	}
}

func (s *Shipper) send(ctx context.Context, client *receiver.Client, req *receiver.FrameRequest) (*receiver.FrameReply, error) {
	sendCtx, cancel := context.WithTimeout(WithAPIKey(ctx, s.opts), sendTimeout)
	defer cancel()
	return client.ProcessFrame(sendCtx, req)
}

// WithAPIKey returns ctx carrying the API key metadata from opts, if any.
func WithAPIKey(ctx context.Context, opts Options) context.Context {
	if opts.APIKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, opts.header(), opts.APIKey)
}

// isPermanentError reports whether err means the frame itself is unusable and
// must not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound:
		return true
	}
	return false
}

// Dial opens a client connection to opts.Endpoint.
func Dial(_ context.Context, opts Options) (*grpc.ClientConn, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("shipper: endpoint is required")
	}
	var creds credentials.TransportCredentials
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(opts.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("shipper: dial %s: %w", opts.Endpoint, err)
	}
	return conn, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}

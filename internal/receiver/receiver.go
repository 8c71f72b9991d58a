package receiver

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/monitor"
)

// Receiver implements MonitorServer on top of the stream registry.
type Receiver struct {
	registry *monitor.Registry
}

// New creates a Receiver that feeds frames into reg.
func New(reg *monitor.Registry) *Receiver {
	return &Receiver{registry: reg}
}

// ProcessFrame handles one frame. The stream must have been started.
func (r *Receiver) ProcessFrame(ctx context.Context, req *FrameRequest) (*FrameReply, error) {
	res, err := r.process(ctx, req)
	if err != nil {
		return nil, err
	}
	return &FrameReply{StreamID: req.StreamID, Result: res}, nil
}

// StartSession registers the stream if needed and starts its session.
func (r *Receiver) StartSession(_ context.Context, req *SessionRequest) (*SessionReply, error) {
	st, started, err := r.registry.Start(req.StreamID)
	if err != nil {
		return nil, toStatus(err)
	}
	slog.Debug("receiver: session start", "stream", req.StreamID, "started", started)
	return &SessionReply{StreamID: req.StreamID, Started: started, Stats: st}, nil
}

// StopSession stops the stream's session and returns its final stats.
func (r *Receiver) StopSession(_ context.Context, req *SessionRequest) (*SessionReply, error) {
	final, err := r.registry.Stop(req.StreamID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SessionReply{StreamID: req.StreamID, Stats: final}, nil
}

// StreamFrames answers every received frame with its result, in order, until
// the client closes its side.
func (r *Receiver) StreamFrames(stream FrameStream) error {
	ctx := stream.Context()
	n := 0
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			slog.Debug("receiver: frame stream closed", "frames", n)
			return nil
		}
		if err != nil {
			return err
		}
		res, err := r.process(ctx, req)
		if err != nil {
			return err
		}
		if err := stream.Send(&FrameReply{StreamID: req.StreamID, Result: res}); err != nil {
			return err
		}
		n++
	}
}

func (r *Receiver) process(ctx context.Context, req *FrameRequest) (engine.FrameResult, error) {
	if req.StreamID == "" {
		return engine.FrameResult{}, status.Error(codes.InvalidArgument, "stream_id is required")
	}
	res, err := r.registry.Submit(ctx, req.StreamID, req.FrameInput)
	if err != nil {
		return engine.FrameResult{}, toStatus(err)
	}
	return res, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, monitor.ErrUnknownStream):
		return status.Error(codes.NotFound, "stream not started")
	case errors.Is(err, monitor.ErrInvalidStreamID):
		return status.Error(codes.InvalidArgument, "stream_id is required")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

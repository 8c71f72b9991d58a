package receiver

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls MonitorService using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// ProcessFrame submits one frame.
func (c *Client) ProcessFrame(ctx context.Context, in *FrameRequest, opts ...grpc.CallOption) (*FrameReply, error) {
	out := new(FrameReply)
	if err := c.cc.Invoke(ctx, methodProcessFrame, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// StartSession starts a session on a stream.
func (c *Client) StartSession(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*SessionReply, error) {
	out := new(SessionReply)
	if err := c.cc.Invoke(ctx, methodStartSession, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// StopSession stops a session and returns its final stats.
func (c *Client) StopSession(ctx context.Context, in *SessionRequest, opts ...grpc.CallOption) (*SessionReply, error) {
	out := new(SessionReply)
	if err := c.cc.Invoke(ctx, methodStopSession, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// FrameStreamClient is the client side of StreamFrames.
type FrameStreamClient struct {
	grpc.ClientStream
}

// Send submits one frame on the stream.
func (s *FrameStreamClient) Send(m *FrameRequest) error { return s.ClientStream.SendMsg(m) }

// Recv returns the result of the next frame.
func (s *FrameStreamClient) Recv() (*FrameReply, error) {
	m := new(FrameReply)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamFrames opens a bidirectional frame stream.
func (c *Client) StreamFrames(ctx context.Context, opts ...grpc.CallOption) (*FrameStreamClient, error) {
	st, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], methodStreamFrames, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &FrameStreamClient{st}, nil
}

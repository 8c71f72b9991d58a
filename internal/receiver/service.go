package receiver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/monitor"
	"github.com/drowseguard/drowseguard/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "drowseguard.v1.MonitorService"

const (
	methodProcessFrame = "/" + ServiceName + "/ProcessFrame"
	methodStartSession = "/" + ServiceName + "/StartSession"
	methodStopSession  = "/" + ServiceName + "/StopSession"
	methodStreamFrames = "/" + ServiceName + "/StreamFrames"
)

// FrameRequest submits one frame for a stream.
type FrameRequest struct {
	StreamID string `json:"stream_id"`
	monitor.FrameInput
}

// FrameReply carries the engine result for one frame.
type FrameReply struct {
	StreamID string             `json:"stream_id"`
	Result   engine.FrameResult `json:"result"`
}

// SessionRequest names the stream for StartSession and StopSession.
type SessionRequest struct {
	StreamID string `json:"stream_id"`
}

// SessionReply returns the session stats. For StopSession they are the final
// stats of the session that ended.
type SessionReply struct {
	StreamID string        `json:"stream_id"`
	Started  bool          `json:"started"`
	Stats    session.Stats `json:"stats"`
}

// MonitorServer is the server API of MonitorService.
type MonitorServer interface {
	ProcessFrame(context.Context, *FrameRequest) (*FrameReply, error)
	StartSession(context.Context, *SessionRequest) (*SessionReply, error)
	StopSession(context.Context, *SessionRequest) (*SessionReply, error)
	StreamFrames(FrameStream) error
}

// FrameStream is the server side of StreamFrames.
type FrameStream interface {
	Send(*FrameReply) error
	Recv() (*FrameRequest, error)
	grpc.ServerStream
}

type frameStream struct {
	grpc.ServerStream
}

func (s *frameStream) Send(m *FrameReply) error { return s.ServerStream.SendMsg(m) }

func (s *frameStream) Recv() (*FrameRequest, error) {
	m := new(FrameRequest)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessFrame", Handler: processFrameHandler},
		{MethodName: "StartSession", Handler: startSessionHandler},
		{MethodName: "StopSession", Handler: stopSessionHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

func processFrameHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FrameRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MonitorServer).ProcessFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodProcessFrame}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MonitorServer).ProcessFrame(ctx, req.(*FrameRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func startSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MonitorServer).StartSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStartSession}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MonitorServer).StartSession(ctx, req.(*SessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func stopSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MonitorServer).StopSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStopSession}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MonitorServer).StopSession(ctx, req.(*SessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	return srv.(MonitorServer).StreamFrames(&frameStream{stream})
}

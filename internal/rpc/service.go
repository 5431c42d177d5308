package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"fpsarena/server/internal/events"
	"fpsarena/server/internal/input"
	"fpsarena/server/internal/logging"
	"fpsarena/server/internal/match"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "arena.v1.MatchControl"

const (
	submitCommandMethod = "/" + ServiceName + "/SubmitCommand"
	getScoreboardMethod = "/" + ServiceName + "/GetScoreboard"
	streamEventsMethod  = "/" + ServiceName + "/StreamEvents"

	// ClientIDMetadataKey lets callers pin the identity used for command sequencing.
	ClientIDMetadataKey = "x-arena-client-id"

	streamBuffer = 128
)

// MatchControlServer is implemented by the match control service.
type MatchControlServer interface {
	SubmitCommand(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetScoreboard(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamEvents(*emptypb.Empty, EventStream) error
}

// EventStream is the server side of StreamEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

// ServiceDesc describes the match control service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitCommand", Handler: submitCommandHandler},
		{MethodName: "GetScoreboard", Handler: getScoreboardHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEvents", Handler: streamEventsHandler, ServerStreams: true},
	},
	Metadata: "arena/v1/match_control.proto",
}

// Register attaches the service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, srv MatchControlServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func submitCommandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatchControlServer).SubmitCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitCommandMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(MatchControlServer).SubmitCommand(ctx, req.(*structpb.Struct))
	})
}

func getScoreboardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatchControlServer).GetScoreboard(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getScoreboardMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(MatchControlServer).GetScoreboard(ctx, req.(*emptypb.Empty))
	})
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MatchControlServer).StreamEvents(in, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(msg *structpb.Struct) error { return s.ServerStream.SendMsg(msg) }

// Simulation is the part of the match the control service drives.
type Simulation interface {
	Submit(cmd input.Command) error
	Scoreboard() match.Scoreboard
	Events() *events.Stream
}

// Service implements MatchControlServer on top of a simulation.
type Service struct {
	sim  Simulation
	gate *input.Gate
	log  *logging.Logger
}

// NewService constructs the control service. Commands pass through the same
// gate as WebSocket clients.
func NewService(sim Simulation, gate *input.Gate, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.L()
	}
	return &Service{sim: sim, gate: gate, log: logger.With(logging.String("component", "grpc"))}
}

// SubmitCommand decodes the struct as a JSON command and queues it.
func (s *Service) SubmitCommand(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "command is required")
	}
	clientID := clientIDFromContext(ctx)
	//1.- Reuse the JSON decoder so both transports accept identical documents.
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode command: %v", err)
	}
	cmd, err := input.Decode(raw)
	if err != nil {
		s.gate.Reject(clientID, err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.gate.Admit(clientID, cmd) {
		return nil, status.Errorf(codes.FailedPrecondition, "sequence %d already seen", cmd.Seq)
	}
	if err := s.sim.Submit(cmd); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// GetScoreboard returns the player tally, the bots in roster order and the
// merged ranking.
func (s *Service) GetScoreboard(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.sim.Scoreboard().Board())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode scoreboard: %v", err)
	}
	return out, nil
}

// StreamEvents forwards every HUD event until the caller cancels.
func (s *Service) StreamEvents(_ *emptypb.Empty, stream EventStream) error {
	ctx := stream.Context()
	id := "grpc-" + uuid.NewString()
	sub, err := s.sim.Events().Subscribe(ctx, id, streamBuffer)
	if err != nil {
		return status.Errorf(codes.Unavailable, "subscribe: %v", err)
	}
	defer sub.Release()
	logger := s.log.With(logging.String("subscriber_id", id))
	logger.Info("event stream opened")

	for {
		select {
		case <-sub.Done():
			logger.Info("event stream closed")
			if err := ctx.Err(); err != nil {
				return status.FromContextError(err).Err()
			}
			return nil
		case envelope := <-sub.Events():
			msg, err := envelope.ToProto()
			if err != nil {
				logger.Warn("skip unencodable event", logging.Error(err), logging.Uint64("seq", envelope.Sequence))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
			_ = sub.Ack(envelope.Sequence)
		}
	}
}

func clientIDFromContext(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, value := range md.Get(ClientIDMetadataKey) {
			if value != "" {
				return "grpc:" + value
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "grpc:" + p.Addr.String()
	}
	return "grpc"
}

func toStruct(value any) (*structpb.Struct, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// errNilConn is returned by a client built without a connection.
var errNilConn = errors.New("grpc connection is nil")

package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"fpsarena/server/internal/events"
	"fpsarena/server/internal/input"
	"fpsarena/server/internal/match"
)

// Client is a typed wrapper around a connection to the match control service.
type Client struct {
	cc grpc.ClientConnInterface
}

// Compressed asks the server to gzip responses and compresses requests.
// Large scoreboards and event backlogs benefit most.
func Compressed() grpc.CallOption {
	return grpc.UseCompressor(gzip.Name)
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SubmitCommand sends one command.
func (c *Client) SubmitCommand(ctx context.Context, cmd input.Command, opts ...grpc.CallOption) error {
	if c == nil || c.cc == nil {
		return errNilConn
	}
	in, err := toStruct(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return c.cc.Invoke(ctx, submitCommandMethod, in, new(emptypb.Empty), opts...)
}

// Scoreboard fetches the current scoreboard.
func (c *Client) Scoreboard(ctx context.Context, opts ...grpc.CallOption) (match.Board, error) {
	if c == nil || c.cc == nil {
		return match.Board{}, errNilConn
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getScoreboardMethod, new(emptypb.Empty), out, opts...); err != nil {
		return match.Board{}, err
	}
	var board match.Board
	if err := decodeStruct(out, &board); err != nil {
		return match.Board{}, err
	}
	return board, nil
}

// EventReceiver yields events from an open StreamEvents call.
type EventReceiver struct {
	stream grpc.ClientStream
}

// StreamEvents opens the server stream. Cancel ctx to close it.
func (c *Client) StreamEvents(ctx context.Context, opts ...grpc.CallOption) (*EventReceiver, error) {
	if c == nil || c.cc == nil {
		return nil, errNilConn
	}
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamEventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(new(emptypb.Empty)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream: stream}, nil
}

// Recv blocks for the next event. The payload is left as decoded JSON.
func (r *EventReceiver) Recv() (*events.Envelope, error) {
	msg := new(structpb.Struct)
	if err := r.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	envelope := &events.Envelope{}
	if err := decodeStruct(msg, envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}

func decodeStruct(msg *structpb.Struct, target any) error {
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

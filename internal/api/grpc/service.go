// Package grpc exposes board signals over gRPC. Messages are
// google.protobuf.Struct values, so the service needs no generated code.
package grpc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/boards"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "opensensorcore.SignalService"

	// values buffered per stream before they are dropped
	streamBufferSize = 64
)

// BoardLookup resolves boards by name
type BoardLookup interface {
	GetBoardByName(name string) (*boards.Instance, bool)
}

// SignalStream is the server side of a StreamSignal call
type SignalStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

type SignalServer struct {
	boards BoardLookup
	logger *zap.Logger
}

func NewSignalServer(lookup BoardLookup, logger *zap.Logger) *SignalServer {
	return &SignalServer{boards: lookup, logger: logger}
}

// Register adds the signal service to a gRPC server
func Register(s *grpc.Server, srv *SignalServer) {
	s.RegisterService(&serviceDesc, srv)
}

// ListSignals returns the root signals of a board.
// Request: {"board": name}
func (s *SignalServer) ListSignals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	inst, err := s.board(req)
	if err != nil {
		return nil, err
	}

	signals := inst.Board.Signals()
	list := make([]interface{}, 0, len(signals))
	for _, sig := range signals {
		cfg := sig.Config()
		entry := map[string]interface{}{
			"header":     cfg.Header.String(),
			"module":     cfg.Header.Module.String(),
			"kind":       cfg.Kind.String(),
			"channels":   float64(cfg.ChannelCount),
			"components": float64(len(sig.Components())),
		}
		if last, ok := sig.LastValue(); ok {
			entry["last"] = dataMap(inst.Board.Name, last)
		}
		list = append(list, entry)
	}

	return structpb.NewStruct(map[string]interface{}{
		"board":   inst.Board.Name,
		"signals": list,
	})
}

// StreamSignal sends every value the signal publishes until the client
// cancels. Values are dropped while the client is slower than the board.
// Request: {"board": name, "header": "15:05", "limit": n (optional)}
func (s *SignalServer) StreamSignal(req *structpb.Struct, stream SignalStream) error {
	inst, err := s.board(req)
	if err != nil {
		return err
	}

	header, err := types.ParseResponseHeader(stringField(req, "header"))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	sig, ok := inst.Board.GetSignal(header)
	if !ok {
		return status.Errorf(codes.NotFound, "signal %s not found on board %s", header, inst.Board.Name)
	}

	limit := 0
	if v, ok := req.GetFields()["limit"]; ok {
		limit = int(v.GetNumberValue())
	}

	ch := make(chan signal.Data, streamBufferSize)
	var dropped atomic.Uint64
	id := sig.Subscribe(func(d signal.Data) {
		select {
		case ch <- d:
		default:
			dropped.Add(1)
		}
	})
	defer sig.Unsubscribe(id)

	logger := s.logger.With(
		zap.String("board", inst.Board.Name),
		zap.String("header", header.String()))
	logger.Info("gRPC signal stream started")

	ctx := stream.Context()
	sent := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("gRPC signal stream ended",
				zap.Int("sent", sent),
				zap.Uint64("dropped", dropped.Load()),
				zap.Error(ctx.Err()))
			return ctx.Err()

		case d := <-ch:
			msg, err := structpb.NewStruct(dataMap(inst.Board.Name, d))
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
			sent++
			if limit > 0 && sent >= limit {
				return nil
			}
		}
	}
}

func (s *SignalServer) board(req *structpb.Struct) (*boards.Instance, error) {
	name := stringField(req, "board")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "board is required")
	}
	inst, ok := s.boards.GetBoardByName(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "board %s not found", name)
	}
	return inst, nil
}

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[key].GetStringValue()
}

// dataMap converts a published value into structpb compatible types
func dataMap(board string, d signal.Data) map[string]interface{} {
	fields := make(map[string]interface{})
	for k, v := range types.Fields(d.Value) {
		fields[k] = v
	}
	return map[string]interface{}{
		"board":     board,
		"header":    d.Header.String(),
		"timestamp": d.Timestamp.UTC().Format(time.RFC3339Nano),
		"fields":    fields,
	}
}

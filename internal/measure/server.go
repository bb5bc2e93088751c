package measure

import (
	"context"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
)

// Server implements the gRPC measurement service on top of a local Measurer.
type Server struct {
	measurer Measurer

	batches    atomic.Int64
	candidates atomic.Int64
	failures   atomic.Int64
}

// ServerStats counts served work
type ServerStats struct {
	Batches    int64 `json:"batches"`
	Candidates int64 `json:"candidates"`
	Failures   int64 `json:"failures"`
}

// NewServer creates a Server delegating to m
func NewServer(m Measurer) *Server {
	return &Server{measurer: m}
}

// Stats returns counters since the server started
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Batches:    s.batches.Load(),
		Candidates: s.candidates.Load(),
		Failures:   s.failures.Load(),
	}
}

// Measure handles one batch. Inputs that cannot be rebuilt fail individually with
// a compile error; the rest are measured as one batch.
func (s *Server) Measure(ctx context.Context, msg *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if msg == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	req, err := decodeRequest(msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	results := make([]MeasureResult, len(req.Inputs))
	pending := make([]MeasureInput, 0, len(req.Inputs))
	slots := make([]int, 0, len(req.Inputs))
	for i, in := range req.Inputs {
		fn, err := rebuild(in)
		if err != nil {
			results[i] = Failure(ErrorCompile, "%v", err)
			continue
		}
		pending = append(pending, MeasureInput{
			TaskName:  in.TaskName,
			Signature: in.Signature,
			Compute:   in.Compute,
			Schedule:  in.Schedule,
			Target:    in.Target,
			Func:      fn,
		})
		slots = append(slots, i)
	}

	if len(pending) > 0 {
		measured := s.measurer.Measure(ctx, pending)
		if len(measured) != len(pending) {
			return nil, status.Errorf(codes.Internal, "measurer returned %d results for %d inputs", len(measured), len(pending))
		}
		for j, r := range measured {
			results[slots[j]] = r
		}
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	s.batches.Add(1)
	s.candidates.Add(int64(len(results)))
	s.failures.Add(int64(failed))
	logger.Info("measure batch served", "batch_id", req.BatchID, "size", len(results), "failed", failed)

	resp, err := encodeResponse(wireResponse{BatchID: req.BatchID, Results: results})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func rebuild(in wireInput) (*ir.LoweredFunc, error) {
	c, err := schedule.Build(in.Compute)
	if err != nil {
		return nil, err
	}
	name := in.FuncName
	if name == "" {
		name = "fn_" + in.TaskName
	}
	return schedule.LowerFunc(c, name, in.Schedule)
}

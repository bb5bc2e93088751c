package measure

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
)

// gRPC names of the measurement service
const (
	ServiceName   = "autotune.measure.v1.Measurer"
	MeasureMethod = "/" + ServiceName + "/Measure"
)

// Functions are not sent over the wire; the server lowers (compute, schedule) itself.
type wireInput struct {
	TaskName  string               `json:"task_name"`
	Signature string               `json:"signature"`
	FuncName  string               `json:"func_name"`
	Compute   schedule.ComputeSpec `json:"compute"`
	Schedule  schedule.Schedule    `json:"schedule"`
	Target    task.Target          `json:"target"`
}

type wireRequest struct {
	BatchID string      `json:"batch_id"`
	Inputs  []wireInput `json:"inputs"`
}

type wireResponse struct {
	BatchID string          `json:"batch_id"`
	Results []MeasureResult `json:"results"`
}

func encodeRequest(batchID string, inputs []MeasureInput) (*wrapperspb.BytesValue, error) {
	req := wireRequest{BatchID: batchID, Inputs: make([]wireInput, len(inputs))}
	for i, in := range inputs {
		name := ""
		if in.Func != nil {
			name = in.Func.Name
		}
		req.Inputs[i] = wireInput{
			TaskName:  in.TaskName,
			Signature: in.Signature,
			FuncName:  name,
			Compute:   in.Compute,
			Schedule:  in.Schedule,
			Target:    in.Target,
		}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode measure request: %w", err)
	}
	return wrapperspb.Bytes(data), nil
}

func decodeRequest(msg *wrapperspb.BytesValue) (wireRequest, error) {
	var req wireRequest
	if err := json.Unmarshal(msg.GetValue(), &req); err != nil {
		return wireRequest{}, fmt.Errorf("decode measure request: %w", err)
	}
	return req, nil
}

func encodeResponse(resp wireResponse) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode measure response: %w", err)
	}
	return wrapperspb.Bytes(data), nil
}

func decodeResponse(msg *wrapperspb.BytesValue) (wireResponse, error) {
	var resp wireResponse
	if err := json.Unmarshal(msg.GetValue(), &resp); err != nil {
		return wireResponse{}, fmt.Errorf("decode measure response: %w", err)
	}
	return resp, nil
}

// measureServer is the handler type registered for the service
type measureServer interface {
	Measure(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func measureHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(measureServer).Measure(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MeasureMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(measureServer).Measure(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*measureServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Measure", Handler: measureHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autotune/measure/v1/measurer.proto",
}

// RegisterServer registers srv on a gRPC server
func RegisterServer(r grpc.ServiceRegistrar, srv *Server) {
	r.RegisterService(&serviceDesc, srv)
}

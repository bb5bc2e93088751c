package measure

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GoSim-25-26J-441/autotune-core/internal/ir"
	"github.com/GoSim-25-26J-441/autotune-core/internal/schedule"
	"github.com/GoSim-25-26J-441/autotune-core/internal/task"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

func newTask(t *testing.T, name string, c *schedule.ComputeDef) *task.TuneTask {
	t.Helper()
	target, _ := task.LookupTarget(task.DefaultTargetName)
	tt, err := task.New(name, c, target)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	return tt
}

func input(t *testing.T, tt *task.TuneTask, s schedule.Schedule) MeasureInput {
	t.Helper()
	fn, err := schedule.LowerFunc(tt.Compute, tt.Func.Name, s)
	if err != nil {
		t.Fatalf("LowerFunc: %v", err)
	}
	return NewInput(tt, s, fn)
}

func TestSimulatedVectorizedIsFaster(t *testing.T) {
	tt := newTask(t, "add", schedule.Add(1024))
	plain := schedule.Identity(tt.Compute)
	vec := plain.Clone()
	vec.Vectorize = true

	m := NewSimulatedMeasurer(WithSimLogger(logger.Discard()))
	res := m.Measure(context.Background(), []MeasureInput{input(t, tt, plain), input(t, tt, vec)})
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	for i, r := range res {
		if !r.OK() {
			t.Fatalf("result %d failed: %s %s", i, r.Error, r.ErrorMsg)
		}
	}
	if res[1].ElapsedSeconds >= res[0].ElapsedSeconds {
		t.Fatalf("expected vectorized (%g) to beat plain (%g)", res[1].ElapsedSeconds, res[0].ElapsedSeconds)
	}
}

func TestSimulatedDeterministic(t *testing.T) {
	tt := newTask(t, "mm", schedule.Matmul(32, 32, 32))
	rng := utils.NewRandSource(7)
	inputs := make([]MeasureInput, 8)
	for i := range inputs {
		inputs[i] = input(t, tt, schedule.Random(tt.Compute, rng))
	}

	a := NewSimulatedMeasurer(WithNoise(0.05), WithSeed(3), WithSimLogger(logger.Discard()))
	b := NewSimulatedMeasurer(WithNoise(0.05), WithSeed(3), WithSimLogger(logger.Discard()))
	ra := a.Measure(context.Background(), inputs)
	rb := b.Measure(context.Background(), inputs)
	for i := range ra {
		if ra[i] != rb[i] {
			t.Fatalf("result %d differs between runs: %+v vs %+v", i, ra[i], rb[i])
		}
		if ra[i].OK() && ra[i].ElapsedSeconds <= 0 {
			t.Fatalf("result %d has non-positive time %g", i, ra[i].ElapsedSeconds)
		}
	}
}

func TestSimulatedFailures(t *testing.T) {
	tt := newTask(t, "add", schedule.Add(10))
	bad := schedule.Identity(tt.Compute)
	bad.Tiles = []int{3}

	m := NewSimulatedMeasurer(WithSimLogger(logger.Discard()))
	res := m.Measure(context.Background(), []MeasureInput{
		input(t, tt, bad),
		{TaskName: "empty"},
	})
	for i, r := range res {
		if r.Error != ErrorCompile {
			t.Fatalf("result %d: expected compile failure, got %+v", i, r)
		}
	}

	slow := NewSimulatedMeasurer(WithSimTimeout(time.Nanosecond), WithSimLogger(logger.Discard()))
	res = slow.Measure(context.Background(), []MeasureInput{input(t, tt, schedule.Identity(tt.Compute))})
	if res[0].Error != ErrorTimeout {
		t.Fatalf("expected timeout, got %+v", res[0])
	}
}

func TestLocalMeasuresCorrectSchedules(t *testing.T) {
	tt := newTask(t, "mm", schedule.Matmul(8, 8, 8))
	rng := utils.NewRandSource(11)
	inputs := []MeasureInput{input(t, tt, schedule.Identity(tt.Compute))}
	for i := 0; i < 5; i++ {
		inputs = append(inputs, input(t, tt, schedule.Random(tt.Compute, rng)))
	}

	m := NewLocalMeasurer(WithRepeat(2), WithTimeout(5*time.Second), WithLocalLogger(logger.Discard()))
	for i, r := range m.Measure(context.Background(), inputs) {
		if !r.OK() {
			t.Fatalf("input %d (%s) failed: %s %s", i, inputs[i].Schedule.Key(), r.Error, r.ErrorMsg)
		}
		if r.ElapsedSeconds < 0 {
			t.Fatalf("input %d: negative time", i)
		}
	}
}

func TestLocalDetectsWrongResult(t *testing.T) {
	tt := newTask(t, "add", schedule.Add(16))
	body := &ir.For{Var: "i", Extent: 16, Body: &ir.Store{
		Buffer:  "C",
		Indices: []ir.Expr{ir.V("i")},
		Value:   ir.Ld("A", ir.V("i")),
	}}
	in := NewInput(tt, schedule.Identity(tt.Compute), ir.FuncWithUpdatedBody(tt.Func, body))

	m := NewLocalMeasurer(WithLocalLogger(logger.Discard()))
	res := m.Measure(context.Background(), []MeasureInput{in})
	if res[0].Error != ErrorRuntime || !strings.Contains(res[0].ErrorMsg, "wrong result") {
		t.Fatalf("expected wrong result failure, got %+v", res[0])
	}
}

func TestLocalTimeout(t *testing.T) {
	tt := newTask(t, "mm", schedule.Matmul(128, 128, 128))
	m := NewLocalMeasurer(WithTimeout(time.Nanosecond), WithLocalLogger(logger.Discard()))
	res := m.Measure(context.Background(), []MeasureInput{input(t, tt, schedule.Identity(tt.Compute))})
	if res[0].Error != ErrorTimeout {
		t.Fatalf("expected timeout, got %+v", res[0])
	}
}

func startServer(t *testing.T, inner Measurer) (*Server, *bufconn.Listener) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(inner)
	gs := grpc.NewServer()
	RegisterServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return srv, lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRemoteRoundTrip(t *testing.T) {
	sim := NewSimulatedMeasurer(WithSimLogger(logger.Discard()))
	srv, lis := startServer(t, sim)
	remote := NewRemoteMeasurer(dialBuf(t, lis), WithRemoteLogger(logger.Discard()), WithCallTimeout(5*time.Second))

	tt := newTask(t, "mm", schedule.Matmul(16, 16, 16))
	rng := utils.NewRandSource(5)
	inputs := make([]MeasureInput, 4)
	for i := range inputs {
		inputs[i] = input(t, tt, schedule.Random(tt.Compute, rng))
	}

	want := sim.Measure(context.Background(), inputs)
	got := remote.Measure(context.Background(), inputs)
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result %d: remote %+v, local %+v", i, got[i], want[i])
		}
	}
	if stats := srv.Stats(); stats.Batches != 1 || stats.Candidates != 4 {
		t.Fatalf("unexpected server stats %+v", stats)
	}

	if res := remote.Measure(context.Background(), nil); len(res) != 0 {
		t.Fatalf("expected no results for an empty batch, got %d", len(res))
	}
}

func TestServerRejectsUnbuildableInputs(t *testing.T) {
	srv := NewServer(NewSimulatedMeasurer(WithSimLogger(logger.Discard())))
	tt := newTask(t, "add", schedule.Add(8))
	good := input(t, tt, schedule.Identity(tt.Compute))
	bad := good
	bad.Compute = schedule.ComputeSpec{Op: "conv", Dims: []int{1}}

	req, err := encodeRequest("b1", []MeasureInput{bad, good})
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}
	msg, err := srv.Measure(context.Background(), req)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	resp, err := decodeResponse(msg)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Error != ErrorCompile {
		t.Fatalf("expected compile failure for unknown op, got %+v", resp.Results[0])
	}
	if !resp.Results[1].OK() {
		t.Fatalf("expected the valid input to be measured, got %+v", resp.Results[1])
	}

	if _, err := srv.Measure(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestRemoteUnreachable(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	_ = lis.Close()
	remote := NewRemoteMeasurer(dialBuf(t, lis),
		WithRetries(1, &utils.ConstantBackoff{Delay: time.Millisecond}),
		WithCallTimeout(time.Second),
		WithRemoteLogger(logger.Discard()),
	)

	tt := newTask(t, "add", schedule.Add(8))
	in := input(t, tt, schedule.Identity(tt.Compute))
	res := remote.Measure(context.Background(), []MeasureInput{in, in})
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	for i, r := range res {
		if r.Error != ErrorTransport {
			t.Fatalf("result %d: expected transport failure, got %+v", i, r)
		}
	}
}

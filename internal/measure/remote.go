package measure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

// RemoteMeasurer sends batches to a measurement daemon over gRPC.
type RemoteMeasurer struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	retries int
	backoff utils.BackoffStrategy
	timeout time.Duration
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// RemoteOption configures a RemoteMeasurer
type RemoteOption func(*RemoteMeasurer)

// WithRetries sets how many times a failed call is retried, and the delay between tries
func WithRetries(n int, backoff utils.BackoffStrategy) RemoteOption {
	return func(m *RemoteMeasurer) {
		m.retries = max(n, 0)
		if backoff != nil {
			m.backoff = backoff
		}
	}
}

// WithCallTimeout bounds each call to the daemon
func WithCallTimeout(d time.Duration) RemoteOption {
	return func(m *RemoteMeasurer) { m.timeout = d }
}

// WithCircuitBreaker fails batches fast while b is open
func WithCircuitBreaker(b *CircuitBreaker) RemoteOption {
	return func(m *RemoteMeasurer) { m.breaker = b }
}

// WithRemoteLogger sets the logger
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(m *RemoteMeasurer) { m.logger = l }
}

// NewRemoteMeasurer wraps an existing connection. The caller keeps ownership of conn.
func NewRemoteMeasurer(conn grpc.ClientConnInterface, opts ...RemoteOption) *RemoteMeasurer {
	m := &RemoteMeasurer{
		conn:    conn,
		backoff: &utils.ConstantBackoff{Delay: 100 * time.Millisecond},
		logger:  logger.Component("measure"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DialRemote connects to a daemon at addr. Close releases the connection.
func DialRemote(addr string, opts ...RemoteOption) (*RemoteMeasurer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial measurer %s: %w", addr, err)
	}
	m := NewRemoteMeasurer(conn, opts...)
	m.closer = conn.Close
	return m, nil
}

// Close releases a connection created by DialRemote
func (m *RemoteMeasurer) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}

// Measure implements Measurer. When the daemon cannot be reached after all retries,
// every input is reported as a transport failure.
func (m *RemoteMeasurer) Measure(ctx context.Context, inputs []MeasureInput) []MeasureResult {
	if len(inputs) == 0 {
		return []MeasureResult{}
	}
	if m.breaker != nil && !m.breaker.Allow() {
		return FailAll(len(inputs), ErrorTransport, "measurement daemon circuit is open")
	}
	batchID := utils.GenerateBatchID()
	req, err := encodeRequest(batchID, inputs)
	if err != nil {
		return FailAll(len(inputs), ErrorTransport, err.Error())
	}

	resp := new(wrapperspb.BytesValue)
	err = utils.Retry(ctx, m.retries+1, m.backoff, func(attempt int) error {
		callCtx, cancel := m.callContext(ctx)
		defer cancel()
		err := m.conn.Invoke(callCtx, MeasureMethod, req, resp)
		if err == nil {
			return nil
		}
		m.logger.Warn("measure call failed", "batch_id", batchID, "attempt", attempt+1, "error", err)
		if !retryable(err) {
			return utils.Permanent(err)
		}
		return err
	})
	if m.breaker != nil {
		switch {
		case err == nil:
			m.breaker.RecordSuccess()
		case retryable(err):
			m.breaker.RecordFailure()
			if m.breaker.State() == CircuitOpen {
				m.logger.Warn("measurement daemon circuit opened", "batch_id", batchID)
			}
		}
	}
	if err != nil {
		return FailAll(len(inputs), ErrorTransport, err.Error())
	}

	out, err := decodeResponse(resp)
	if err != nil {
		return FailAll(len(inputs), ErrorTransport, err.Error())
	}
	if len(out.Results) != len(inputs) {
		return FailAll(len(inputs), ErrorTransport,
			fmt.Sprintf("daemon returned %d results for %d inputs", len(out.Results), len(inputs)))
	}
	return out.Results
}

func (m *RemoteMeasurer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return context.WithCancel(ctx)
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

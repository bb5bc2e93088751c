package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/GoSim-25-26J-441/autotune-core/internal/measure"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/utils"
)

// remoteCallSlack is added to the per-batch call timeout of the remote measurer
const remoteCallSlack = 5 * time.Second

// buildMeasurer creates the measurer selected by cfg. batchSize bounds the number of
// candidates per call and sizes the remote call timeout. The returned close function
// releases remote connections and is never nil.
func buildMeasurer(cfg config.MeasurerConfig, seed int64, batchSize int, l *slog.Logger) (measure.Measurer, func() error, error) {
	noop := func() error { return nil }
	l = l.With("component", "measure", "kind", cfg.Kind)

	switch cfg.Kind {
	case "", "sim":
		return measure.NewSimulatedMeasurer(
			measure.WithNoise(cfg.Noise),
			measure.WithSimTimeout(cfg.Timeout()),
			measure.WithSeed(seed),
			measure.WithSimLogger(l),
		), noop, nil
	case "local":
		return measure.NewLocalMeasurer(
			measure.WithRepeat(cfg.Repeat),
			measure.WithTimeout(cfg.Timeout()),
			measure.WithLocalLogger(l),
		), noop, nil
	case "remote":
		backoff := utils.BackoffFromConfig(cfg.Backoff.Type, cfg.Backoff.BaseMs, cfg.Backoff.MaxMs)
		var callTimeout time.Duration
		if cfg.Timeout() > 0 {
			callTimeout = cfg.Timeout()*time.Duration(max(batchSize, 1)*max(cfg.Repeat, 1)) + remoteCallSlack
		}
		opts := []measure.RemoteOption{
			measure.WithRetries(cfg.Retries, backoff),
			measure.WithCallTimeout(callTimeout),
			measure.WithRemoteLogger(l),
		}
		if b := cfg.Breaker; b.FailureThreshold > 0 {
			opts = append(opts, measure.WithCircuitBreaker(
				measure.NewCircuitBreaker(b.FailureThreshold, b.SuccessThreshold, b.Cooldown())))
		}
		rm, err := measure.DialRemote(cfg.Address, opts...)
		if err != nil {
			return nil, nil, err
		}
		return rm, rm.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown measurer kind: %s", cfg.Kind)
	}
}

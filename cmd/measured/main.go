package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/autotune-core/internal/measure"
	"github.com/GoSim-25-26J-441/autotune-core/pkg/logger"
)

func main() {
	var grpcAddr string
	var httpAddr string
	var kind string
	var repeat int
	var timeout time.Duration
	var noise float64
	var seed int64
	var logLevel string

	flag.StringVar(&grpcAddr, "grpc-addr", ":50061", "gRPC listen address")
	flag.StringVar(&httpAddr, "http-addr", ":8081", "HTTP listen address")
	flag.StringVar(&kind, "measurer", "local", "backend measurer (local, sim)")
	flag.IntVar(&repeat, "repeat", 3, "timed runs per candidate (local)")
	flag.DurationVar(&timeout, "timeout", 2*time.Second, "per-candidate timeout")
	flag.Float64Var(&noise, "noise", 0.02, "relative measurement noise (sim)")
	flag.Int64Var(&seed, "seed", 1, "noise seed (sim)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger.SetDefault(logger.NewText(logLevel, os.Stdout))

	var backend measure.Measurer
	switch kind {
	case "local":
		backend = measure.NewLocalMeasurer(measure.WithRepeat(repeat), measure.WithTimeout(timeout))
	case "sim":
		backend = measure.NewSimulatedMeasurer(measure.WithNoise(noise), measure.WithSimTimeout(timeout), measure.WithSeed(seed))
	default:
		logger.Error("unknown measurer", "measurer", kind)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	srv := measure.NewServer(backend)

	// TODO: Configure gRPC server security (TLS) before exposing the daemon beyond localhost.
	grpcServer := grpc.NewServer()
	measure.RegisterServer(grpcServer, srv)

	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", grpcAddr, "error", err)
		stop()
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           measure.NewHTTPServer(srv).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("gRPC server listening", "addr", grpcAddr, "measurer", kind)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	stats := srv.Stats()
	logger.Info("measurement daemon stopped", "batches", stats.Batches, "candidates", stats.Candidates, "failures", stats.Failures)
}

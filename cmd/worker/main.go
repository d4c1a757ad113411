package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/kunal/batch-runner/pkg/config"
	"github.com/kunal/batch-runner/pkg/logging"
	"github.com/kunal/batch-runner/pkg/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "worker",
		Short:        "Serve a compute unit through a local runner",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC and metrics servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})

	return root
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Int("port", cfg.WorkerPort).
		Int("metrics_port", cfg.MetricsPort).
		Str("executor", cfg.ExecutorType).
		Int("input_axis", cfg.InputBatchAxis).
		Int("output_axis", cfg.OutputBatchAxis).
		Bool("eager_setup", cfg.EagerSetup).
		Msg("worker starting")

	w, err := worker.New(cfg, log)
	if err != nil {
		return err
	}
	defer w.Stop()
	if err := w.Start(ctx); err != nil {
		log.Error().Err(err).Msg("eager setup failed")
		return err
	}

	grpcServer := grpc.NewServer()
	w.RegisterGRPC(grpcServer)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.WorkerPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.WorkerPort, err)
	}

	mux := http.NewServeMux()
	w.RegisterHTTP(mux)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("metrics endpoint listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}

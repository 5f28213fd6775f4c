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
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
)

const shutdownTimeout = 5 * time.Second

var (
	serveAddr        string
	serveMetricsAddr string
	serveCamera      int
	serveReplayDir   string
	serveBackend     string
	serveStartCamera bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the checkout HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "http", "", "HTTP server address (default from config)")
	f.StringVar(&serveMetricsAddr, "metrics", "", "Separate metrics server address")
	f.IntVar(&serveCamera, "camera", 0, "Webcam index")
	f.StringVar(&serveReplayDir, "replay", "", "Replay images from a directory instead of a webcam")
	f.StringVar(&serveBackend, "detector", "", "Detector backend (subprocess, http)")
	f.BoolVar(&serveStartCamera, "start-camera", false, "Open the camera at startup")
}

func applyServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("http") {
		cfg.Addr = serveAddr
	}
	if f.Changed("metrics") {
		cfg.MetricsAddr = serveMetricsAddr
	}
	if f.Changed("camera") {
		cfg.Camera.Index = serveCamera
	}
	if f.Changed("replay") {
		cfg.Camera.ReplayDir = serveReplayDir
	}
	if f.Changed("detector") {
		cfg.Detector.Backend = serveBackend
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	logger.Info("Main", "Checkout server starting...")
	logger.Info("Main", "  HTTP server: %s", cfg.Addr)
	logger.Info("Main", "  Target FPS: %d, inference every %d frames", cfg.Pipeline.TargetFPS, cfg.Pipeline.InferenceEvery)

	if serveStartCamera {
		if err := a.pipeline.Start(ctx); err != nil {
			logger.Warn("Main", "Camera not started: %v", err)
		}
	}

	// streams end with the process rather than holding Shutdown open
	baseCtx := func(net.Listener) context.Context { return ctx }
	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           a.webServer().Handler(),
		BaseContext:       baseCtx,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		ms := a.metrics.NewServer(cfg.MetricsAddr)
		ms.BaseContext = baseCtx
		servers = append(servers, ms)
		logger.Info("Main", "  Metrics server: %s", cfg.MetricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("HTTP", "Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Main", "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var err error
		for _, srv := range servers {
			err = multierr.Append(err, srv.Shutdown(shutdownCtx))
		}
		return err
	})

	err = g.Wait()
	if cerr := a.Close(); cerr != nil {
		logger.Warn("Main", "Error during shutdown: %v", cerr)
		err = multierr.Append(err, cerr)
	}
	logger.Info("Main", "Server stopped")
	return err
}

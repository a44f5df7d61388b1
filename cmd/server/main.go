package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeongseonghan/ofdm-sim/internal/audio"
	"github.com/jeongseonghan/ofdm-sim/internal/config"
	"github.com/jeongseonghan/ofdm-sim/internal/protocol"
	"github.com/jeongseonghan/ofdm-sim/internal/server"
	"github.com/jeongseonghan/ofdm-sim/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	listDevices := flag.Bool("list-devices", false, "List audio devices and exit")
	flag.Parse()

	if *listDevices {
		if err := audio.Init(); err != nil {
			log.Fatalf("Failed to initialize PortAudio: %v", err)
		}
		defer audio.Terminate()
		if err := audio.PrintDevices(os.Stdout); err != nil {
			log.Fatalf("Failed to list devices: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer telemetry.ShutdownWithTimeout(ctx, shutdownTracing, logger)

	ofdm, err := cfg.OFDMParams()
	if err != nil {
		return err
	}

	collector, err := protocol.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	orch := protocol.DefaultConfig()
	orch.Cooldown = cfg.Orchestrator.Cooldown
	orch.QueueSize = cfg.Orchestrator.QueueSize
	session := protocol.NewSession(orch, logger, collector)
	defer session.Close()

	hub := server.NewWSHub(logger)
	go hub.Forward(session.Events())

	// Audio stays optional: the simulator runs headless without a device.
	var playback server.Playback
	if cfg.Audio.Enabled {
		if err := audio.Init(); err != nil {
			logger.Warn("audio disabled: PortAudio init failed", zap.Error(err))
		} else {
			defer audio.Terminate()
			if !audio.HasOutputDevice() {
				logger.Warn("no audio output device found; playback requests will fail")
			}
			playback = audio.NewPlayer(cfg.Audio.SampleRate, cfg.Audio.Hold)
		}
	}

	handlers := server.NewHandlers(session, hub, playback, server.Defaults{
		OFDM:        ofdm,
		BandwidthHz: cfg.Channel.BandwidthHz,
	}, logger)
	srv := server.NewServer(cfg.Server.Addr, handlers, collector.Handler(), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/tracevault/internal/logging"
	"github.com/tinytelemetry/tracevault/internal/rotation"
	"github.com/tinytelemetry/tracevault/internal/source"
	"github.com/tinytelemetry/tracevault/internal/transmit"
)

// runAgent records events until SIGINT or SIGTERM, then flushes.
func runAgent(cfg agentConfig) error {
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	tx, err := buildTransmitter(cfg, logger)
	if err != nil {
		return err
	}
	coord, err := rotation.NewCoordinator(rotation.Config{
		Dir:             cfg.SpoolDir,
		Threshold:       cfg.RotateThreshold,
		FlushTimeout:    cfg.FlushTimeout,
		TransmitTimeout: cfg.UploadTimeout,
		RetryInterval:   cfg.RetryInterval,
	}, tx)
	if err != nil {
		return fmt.Errorf("failed to start rotation: %w", err)
	}
	coord.Start()
	defer coord.Stop()

	var clock referenceClock
	if cfg.ServerURL != "" {
		clock = transmit.NewClockClient(cfg.ServerURL, cfg.ClockTimeout)
	}
	a := newAgent(cfg.DeviceID, coord, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sources []source.Source
	for _, plugin := range buildInputPlugins(inputPluginConfig{Stdin: cfg.Stdin, TCPAddr: cfg.TCPAddr, WatchPaths: cfg.WatchPaths}) {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logger.Error().Err(err).Str("plugin", plugin.Name()).Msg("input plugin failed")
			continue
		}
		logger.Info().Str("plugin", plugin.Name()).Msg("input enabled")
		sources = append(sources, src)
	}
	mux := source.NewMultiplexer(ctx, sources, 0)
	mux.Start()
	defer mux.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigCh:
				if sig == syscall.SIGUSR1 {
					if err := a.BufferCleared(gctx); err != nil {
						logger.Error().Err(err).Msg("record buffer clear")
					}
					continue
				}
				logger.Info().Str("signal", sig.String()).Msg("shutting down")
				cancel()
				return nil
			}
		}
	})

	if mux.HasSources() {
		g.Go(func() error {
			for ev := range mux.Events() {
				if err := a.Record(gctx, ev); err != nil {
					logger.Error().Err(err).Str("category", ev.Category).Msg("event dropped")
				}
			}
			logger.Info().Msg("all sources closed")
			return nil
		})
	} else {
		logger.Warn().Msg("no input sources enabled; waiting for signals")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("errgroup exited with error")
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.FlushTimeout+5*time.Second)
	defer flushCancel()
	failed := 0
	for _, out := range a.Shutdown(flushCtx) {
		if out.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d artifact(s) could not be handed off; they remain in %s", failed, cfg.SpoolDir)
	}
	return nil
}

func buildTransmitter(cfg agentConfig, logger zerolog.Logger) (rotation.Transmitter, error) {
	if cfg.ServerURL == "" {
		tx, err := transmit.NewOutboxTransmitter(cfg.OutboxDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open outbox: %w", err)
		}
		logger.Info().Str("outbox", cfg.OutboxDir).Msg("no server-url; artifacts go to the outbox")
		return tx, nil
	}
	tx, err := transmit.NewHTTPTransmitter(cfg.ServerURL, cfg.UploadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure uploads: %w", err)
	}
	return tx, nil
}

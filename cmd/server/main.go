package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/sttrelay/internal/adapters/backend"
	"github.com/dkeye/sttrelay/internal/adapters/dump"
	router "github.com/dkeye/sttrelay/internal/adapters/http"
	"github.com/dkeye/sttrelay/internal/adapters/inbound"
	"github.com/dkeye/sttrelay/internal/app"
	"github.com/dkeye/sttrelay/internal/app/relay"
	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/config"
	"github.com/dkeye/sttrelay/internal/core"
	"github.com/dkeye/sttrelay/internal/metrics"
	transport "github.com/dkeye/sttrelay/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server error")
		cancel()
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Mode == "release" {
		// JSON lines for log collectors.
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	codec, err := audio.NewFrameCodec(cfg.Audio.Channels, cfg.Audio.KeepChannel)
	if err != nil {
		return err
	}

	dialer, closeDialer, err := backend.NewDialer(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDialer(); err != nil {
			log.Warn().Err(err).Msg("backend dialer close")
		}
	}()

	var sinks core.SinkFactory
	var dumps transport.DumpSource
	if cfg.Dump.Enabled {
		store, err := dump.NewStore(cfg.Dump.Dir)
		if err != nil {
			return err
		}
		sinks, dumps = store, store
		if cfg.Dump.PruneSchedule != "" && cfg.Dump.MaxAge > 0 {
			sweeper, err := dump.StartSweeper(store, cfg.Dump.PruneSchedule, cfg.Dump.MaxAge)
			if err != nil {
				return err
			}
			defer sweeper.Stop()
		}
	}

	coord := relay.NewCoordinator(relay.Options{
		Codec:         codec,
		WindowSamples: cfg.Audio.WindowSamples(),
		GracePeriod:   cfg.Relay.GracePeriod,
		Dialer:        dialer,
		Sinks:         sinks,
		Metrics:       m,
	})
	registry := app.NewRegistry()

	// Sessions outlive the signal context so shutdown can drain them.
	sessionCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	r := router.SetupRouter(sessionCtx, cfg, router.Deps{
		Stream: &inbound.StreamWSController{
			Runner:   coord,
			Registry: registry,
			Conn: inbound.ConnOptions{
				ReadLimit:  cfg.ReadLimit,
				PingPeriod: cfg.PingPeriod,
				WriteWait:  cfg.WriteWait,
			},
		},
		Handlers: &transport.Handlers{
			Dumps:      dumps,
			Sessions:   registry,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
		Gatherer: reg,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("backend", cfg.Backend.Provider).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Int("sessions", registry.Count()).Msg("Shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.GracePeriod+5*time.Second)
		defer shutdownCancel()

		// Hijacked websockets are not tracked by Shutdown; drain them first.
		registry.CancelAll()
		if err := registry.WaitIdle(shutdownCtx); err != nil {
			log.Warn().Err(err).Int("sessions", registry.Count()).Msg("sessions still draining")
		}
		cancelSessions()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	return g.Wait()
}

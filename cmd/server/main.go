package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/duocast/internal/adapters/events"
	router "github.com/dkeye/duocast/internal/adapters/http"
	"github.com/dkeye/duocast/internal/app"
	"github.com/dkeye/duocast/internal/app/orch"
	"github.com/dkeye/duocast/internal/app/sfu"
	"github.com/dkeye/duocast/internal/config"
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
	setupLogger(cfg.Log)

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg config.LogConfig) {
	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)

	var mirror *app.EventMirror
	if cfg.Redis.Enabled {
		pub, err := events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Channel:      cfg.Redis.Channel,
			DialTimeout:  5 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		mirror = app.NewEventMirror(pub, 1024)
		g.Go(func() error {
			mirror.Run(ctx)
			return nil
		})
	}

	gate := app.NewEngineGate()
	defer gate.Close()
	engine := sfu.NewEngine(sfu.Config{
		ICEServers:  cfg.SFU.ICEServers,
		PLIInterval: cfg.SFU.PLIInterval,
	})
	g.Go(func() error {
		initCtx, initCancel := context.WithTimeout(ctx, cfg.SFU.InitTimeout)
		defer initCancel()
		// A failed engine keeps the gate unavailable; signaling stays up.
		_ = gate.Init(initCtx, engine, sfu.DefaultCodecs())
		return nil
	})

	reg := app.NewRegistry(cfg.MaxStreamers)
	o := orch.New(
		reg,
		app.NewLedger(reg, gate),
		app.NewBroadcaster(app.SimplePolicy{}, mirror),
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(ctx, cfg, o, gate),
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("duocast server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

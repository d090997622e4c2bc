package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/peer-relay/internal/auth"
	"github.com/rickgao/peer-relay/internal/config"
	"github.com/rickgao/peer-relay/internal/database"
	"github.com/rickgao/peer-relay/internal/metrics"
	"github.com/rickgao/peer-relay/internal/relay"
	"github.com/rickgao/peer-relay/internal/transport"
	"github.com/rickgao/peer-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("relay exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadAndValidate(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"auth_mode", cfg.Auth.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authenticate, closeAuth, err := newAuthenticator(ctx, cfg.Auth, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithMetrics(metrics.New(promReg)),
	}
	if authenticate != nil {
		opts = append(opts, relay.WithAuthenticator(authenticate))
	}
	registry := relay.NewRegistry(relay.Config{
		HeartbeatInterval:    cfg.Heartbeat.Interval,
		HeartbeatGracePeriod: cfg.Heartbeat.GracePeriod,
	}, opts...)

	server := transport.NewServer(transport.Config{
		Addr:         cfg.Server.Addr,
		Path:         cfg.Server.Path,
		ReadLimit:    cfg.Server.ReadLimit,
		WriteTimeout: cfg.Server.WriteTimeout,
		SendBuffer:   cfg.Server.SendBuffer,
		CheckOrigin:  cfg.Server.CheckOrigin,
	}, registry, logger)

	statusServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newStatusHandler(registry, promReg, cfg.Metrics.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	g.Go(func() error {
		logger.Info("starting status server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := statusServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// The relay server closes its connections and listener on its own
		// when gctx is canceled.
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("relay stopped")
	return err
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// newAuthenticator builds the handshake authenticator for the configured mode.
// A nil authenticator accepts every well-formed handshake.
func newAuthenticator(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (relay.Authenticator, func(), error) {
	noop := func() {}

	switch cfg.Mode {
	case config.AuthJWT:
		return auth.NewJWTVerifier(cfg.JWTSecret).Authenticate, noop, nil

	case config.AuthPostgres:
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, noop, fmt.Errorf("connect key database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Info("database connected")
		return auth.NewKeyStore(pool).Authenticate, pool.Close, nil

	default:
		return nil, noop, nil
	}
}

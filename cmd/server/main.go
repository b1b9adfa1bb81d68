package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/npezzotti/go-chatroom/internal/api"
	"github.com/npezzotti/go-chatroom/internal/broker"
	"github.com/npezzotti/go-chatroom/internal/config"
	"github.com/npezzotti/go-chatroom/internal/database"
	"github.com/npezzotti/go-chatroom/internal/logging"
	"github.com/npezzotti/go-chatroom/internal/presence"
	"github.com/npezzotti/go-chatroom/internal/server"
	"github.com/npezzotti/go-chatroom/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath      string
	addr            string
	dsn             string
	allowedOrigins  stringSliceFlag
	presenceBackend string
	redisURL        string
	idleWindow      time.Duration
	resetPresence   bool
	natsURL         string
	logEnv          string
	logBackend      string
	logLevel        string
)

func main() {
	defaults := config.Default()

	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&addr, "addr", defaults.ServerAddr, "server address")
	flag.StringVar(&dsn, "dsn", defaults.DatabaseDSN, "database connection string")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&presenceBackend, "presence-backend", defaults.Presence.Backend, "presence store: memory or redis")
	flag.StringVar(&redisURL, "redis-url", "", "redis url for the redis presence store")
	flag.DurationVar(&idleWindow, "presence-idle-window", defaults.Presence.IdleWindow, "how long a presence entry stays active")
	flag.BoolVar(&resetPresence, "reset-presence", false, "drop all presence entries at startup")
	flag.StringVar(&natsURL, "nats-url", "", "NATS url for cross-instance fan-out, empty to disable")
	flag.StringVar(&logEnv, "log-env", "", "logging environment: dev, stage or prod")
	flag.StringVar(&logBackend, "log-backend", "", "logging backend: std or zap")
	flag.StringVar(&logLevel, "log-level", defaults.Logging.Level, "log level")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	logger := logging.New(logging.Config{
		Service: cfg.Logging.Service,
		Env:     cfg.Logging.Env,
		Backend: cfg.Logging.Backend,
		Level:   cfg.Logging.Level,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ServerAddr = addr
		case "dsn":
			cfg.DatabaseDSN = dsn
		case "allowed-origins":
			cfg.AllowedOrigins = allowedOrigins
		case "presence-backend":
			cfg.Presence.Backend = presenceBackend
		case "redis-url":
			cfg.Presence.RedisURL = redisURL
		case "presence-idle-window":
			cfg.Presence.IdleWindow = idleWindow
		case "reset-presence":
			cfg.Presence.ResetOnStart = resetPresence
		case "nats-url":
			cfg.NATS.URL = natsURL
		case "log-env":
			cfg.Logging.Env = logEnv
		case "log-backend":
			cfg.Logging.Backend = logBackend
		case "log-level":
			cfg.Logging.Level = logLevel
		}
	})
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("db close", "err", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		return err
	}
	if _, err := dbConn.EnsureDefaultRoom(); err != nil {
		return fmt.Errorf("default room: %w", err)
	}

	store, closeStore, err := newPresenceStore(ctx, cfg.Presence)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := presence.NewRegistry(store, logger,
		presence.WithIdleWindow(cfg.Presence.IdleWindow),
		presence.WithKeyPrefix(cfg.Presence.KeyPrefix),
	)
	if cfg.Presence.ResetOnStart {
		if err := registry.ResetAll(ctx); err != nil {
			return fmt.Errorf("reset presence: %w", err)
		}
		logger.Info("presence reset")
	}

	topics := broker.New()
	var events broker.Publisher = topics
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Logging.Service),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("NATS disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("NATS reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()

		relay := broker.NewNATSRelay(nc, cfg.NATS.SubjectPrefix, topics, logger)
		if err := relay.Start(); err != nil {
			return err
		}
		defer relay.Stop()

		events = relay
		logger.Info("cross-instance fan-out enabled", "nats_url", cfg.NATS.URL)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, "gochat")

	chatServer := server.NewChatServer(logger, server.NewRoomLookup(dbConn), registry, topics, statsUpdater)

	statsUpdater.RegisterGauge(stats.NumTopics, topics.Topics)

	srv := api.NewGoChatApp(mux, logger, chatServer, dbConn, registry, events, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case serveErr = <-errCh:
		logger.Error("server", "err", serveErr)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error("HTTP server shutdown", "err", err)
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error("chat server shutdown", "err", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

func newPresenceStore(ctx context.Context, cfg config.Presence) (presence.Store, func(), error) {
	switch cfg.Backend {
	case config.PresenceRedis:
		rs, err := presence.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis presence store: %w", err)
		}
		return rs, func() { rs.Close() }, nil
	default:
		return presence.NewMemoryStore(), func() {}, nil
	}
}

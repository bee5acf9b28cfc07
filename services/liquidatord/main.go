package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ripecore/core/events"
	"ripecore/core/pricing"
	"ripecore/core/state"
	"ripecore/native/lending"
	"ripecore/observability/logging"
	telemetry "ripecore/observability/otel"
	"ripecore/services/liquidatord/config"
	"ripecore/services/liquidatord/server"
	"ripecore/storage"
	"ripecore/storage/journal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/liquidatord/config.yaml", "path to liquidatord config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("RIPE_ENV"))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "liquidatord",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("liquidatord", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	protocol, err := lending.LoadConfig(cfg.ProtocolConfig)
	if err != nil {
		log.Fatalf("load protocol config: %v", err)
	}

	db, err := storage.OpenLevelDB(cfg.Storage.DataDir, storage.LevelDBOptions{Sync: true})
	if err != nil {
		log.Fatalf("open state database: %v", err)
	}
	defer db.Close()
	mgr := state.NewManager(db)

	var sinks events.Fanout
	var eventLog server.EventLog
	if cfg.Storage.JournalDSN != "" {
		j, err := journal.Open(cfg.Storage.JournalDSN, journal.WithLogger(logger))
		if err != nil {
			log.Fatalf("open event journal: %v", err)
		}
		defer j.Close()
		sinks = append(sinks, j)
		eventLog = j
	}

	feed := pricing.NewFeed(pricing.Config{MaxAge: cfg.Oracle.MaxAge, MaxDeviationBps: cfg.Oracle.MaxDeviationBps})
	engine := lending.NewEngine(protocol)
	engine.SetBackend(mgr)
	engine.SetPriceOracle(feed)
	engine.SetShareConverter(feed)
	engine.SetAuthorizer(mgr)
	engine.SetPauses(mgr)
	engine.SetEmitter(sinks)
	engine.SetLogger(logger)

	srv := server.New(server.Config{
		Engine: engine,
		Prices: feed,
		Events: eventLog,
		Auth: server.NewAuthenticator(server.AuthConfig{
			Secret:         cfg.Auth.Secret(),
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			Leeway:         cfg.Auth.Leeway,
			OracleSubjects: cfg.Auth.OracleSubjects,
		}, logger),
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.CertPath == "" {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext liquidatord mode is restricted to loopback listeners or dev environment")
		}
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for range reload {
			reloadProtocol(logger, engine, cfg.ProtocolConfig)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("liquidatord listening", slog.String("addr", listener.Addr().String()))
		if cfg.TLS.CertPath != "" {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// reloadProtocol swaps in a re-read protocol configuration. The engine only
// accepts a strictly newer version.
func reloadProtocol(logger *slog.Logger, engine *lending.Engine, path string) {
	next, err := lending.LoadConfig(path)
	if err != nil {
		logger.Error("protocol reload failed", slog.Any("error", err))
		return
	}
	if err := engine.SetConfig(next); err != nil {
		logger.Error("protocol reload rejected", slog.Any("error", err))
		return
	}
	logger.Info("protocol config reloaded", slog.Uint64("version", next.Version))
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medixscan/anonymizer/internal/audit"
	"github.com/medixscan/anonymizer/internal/cache"
	"github.com/medixscan/anonymizer/internal/config"
	"github.com/medixscan/anonymizer/internal/ingest"
	"github.com/medixscan/anonymizer/internal/logger"
	"github.com/medixscan/anonymizer/internal/policy"
	"github.com/medixscan/anonymizer/internal/privacy"
	"github.com/medixscan/anonymizer/internal/security"
	"github.com/medixscan/anonymizer/internal/server"
	"github.com/medixscan/anonymizer/internal/websocket"
	"go.uber.org/zap"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the health endpoint at this address (e.g. localhost:8080) and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("medixscan-anonymizer %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting medixscan anonymizer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	catalog := policy.DefaultCatalog()
	if cfg.Policy.CatalogFile != "" {
		catalog, err = policy.LoadCatalogFile(cfg.Policy.CatalogFile)
		if err != nil {
			log.Fatal("Failed to load rule catalog", zap.String("file", cfg.Policy.CatalogFile), zap.Error(err))
		}
		log.Info("Rule catalog loaded", zap.String("file", cfg.Policy.CatalogFile))
	}

	deps := server.Deps{
		Engine:   privacy.NewFromConfig(cfg.Engine, catalog, log.WithComponent("privacy")),
		Resolver: policy.NewResolver(catalog, log.WithComponent("policy").Logger),
		Ingest:   ingest.NewRegistry(cfg.Ingestion.Limits),
		Limiter:  security.NewRateLimiter(cfg.RateLimit),
	}

	if cfg.Cache.Enabled {
		resultCache, err := cache.NewResultCache(cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.PoolSize,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DialTimeout:    cfg.Cache.DialTimeout,
			DefaultTTL:     cfg.Cache.TTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Result cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer resultCache.Close()
			deps.Cache = resultCache
		}
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(audit.Config{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		}, log.WithComponent("audit").Logger)
		if err != nil {
			log.Fatal("Failed to initialize audit store", zap.Error(err))
		}
		defer store.Close()
		deps.Audit = store
	}

	if cfg.WebSocket.Enabled {
		ws := cfg.WebSocket
		deps.Hub = websocket.NewHub(&websocket.HubConfig{
			BroadcastAnonymizations: ws.Events.BroadcastAnonymizations,
			BroadcastBatches:        ws.Events.BroadcastBatches,
			BroadcastSystem:         ws.Events.BroadcastSystem,
			BroadcastConnections:    ws.Events.BroadcastConnections,
			MaxConnections:          ws.MaxConnections,
			ReadBufferSize:          ws.ReadBufferSize,
			WriteBufferSize:         ws.WriteBufferSize,
			PingInterval:            ws.PingInterval,
			PongTimeout:             ws.PongTimeout,
			WriteTimeout:            ws.WriteTimeout,
			MaxMessageSize:          ws.MaxMessageSize,
			AllowedOrigins:          ws.AllowedOrigins,
			Username:                ws.Username,
			Password:                ws.Password,
		}, log.WithComponent("websocket").Logger)
	}

	srv, err := server.New(cfg, log, deps)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	if err := config.Watch(log.Logger, srv.UpdateConfig); err != nil {
		log.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	return logger.New(loggerConfig)
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(addr string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}

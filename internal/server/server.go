package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/medixscan/anonymizer/internal/audit"
	"github.com/medixscan/anonymizer/internal/cache"
	"github.com/medixscan/anonymizer/internal/config"
	"github.com/medixscan/anonymizer/internal/ingest"
	"github.com/medixscan/anonymizer/internal/logger"
	"github.com/medixscan/anonymizer/internal/policy"
	"github.com/medixscan/anonymizer/internal/privacy"
	"github.com/medixscan/anonymizer/internal/security"
	"github.com/medixscan/anonymizer/internal/websocket"
	"go.uber.org/zap"
)

const version = "1.0.0"

// AuditStore is the part of the audit store the API uses
type AuditStore interface {
	SaveRequest(ctx context.Context, req *audit.Request) error
	GetRequest(ctx context.Context, id string) (*audit.Request, error)
	Record(ctx context.Context, entry *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
}

// ResultCache is the part of the result cache the API uses
type ResultCache interface {
	Key(kind cache.Kind, sensitivity, text string) string
	Get(ctx context.Context, key string, out any) bool
	Set(ctx context.Context, key string, kind cache.Kind, v any) error
}

// Deps are the collaborators of the server. Audit, Cache, Hub and Limiter
// are optional.
type Deps struct {
	Engine   *privacy.Engine
	Resolver *policy.Resolver
	Ingest   *ingest.Registry
	Audit    AuditStore
	Cache    ResultCache
	Hub      *websocket.Hub
	Limiter  *security.RateLimiter
}

// Server exposes the anonymization engine over HTTP
type Server struct {
	config   atomic.Pointer[config.Config]
	logger   *logger.Logger
	engine   *privacy.Engine
	resolver *policy.Resolver
	ingest   *ingest.Registry
	audit    AuditStore
	cache    ResultCache
	wsHub    *websocket.Hub
	limiter  *security.RateLimiter
	router   *mux.Router
	server   *http.Server

	startTime       time.Time
	totalRequests   atomic.Int64
	totalDetections atomic.Int64
	cancel          context.CancelFunc
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("engine and policy resolver are required")
	}
	if deps.Ingest == nil {
		deps.Ingest = ingest.NewRegistry(cfg.Ingestion.Limits)
	}

	s := &Server{
		logger:    log.WithComponent("server"),
		engine:    deps.Engine,
		resolver:  deps.Resolver,
		ingest:    deps.Ingest,
		audit:     deps.Audit,
		cache:     deps.Cache,
		wsHub:     deps.Hub,
		limiter:   deps.Limiter,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	s.config.Store(cfg)

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s.logger.Info("API server initialized",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("audit_enabled", s.audit != nil),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("websocket_enabled", s.wsHub != nil),
		zap.Bool("rate_limit_enabled", s.limiter != nil && cfg.RateLimit.Enabled),
	)

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.wsHub != nil {
		path := s.cfg().WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.Use(s.bodyLimitMiddleware)

	api.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/insights", s.handleInsights).Methods("POST")
	api.HandleFunc("/export/{request_id}", s.handleExport).Methods("GET")
	api.HandleFunc("/ingest", s.handleIngest).Methods("POST")

	api.HandleFunc("/policy", s.handleGeneratePolicy).Methods("POST")
	api.HandleFunc("/policy/validate", s.handleValidatePolicy).Methods("POST")
	api.HandleFunc("/policy/recommend", s.handleRecommendStrategy).Methods("POST")
	api.HandleFunc("/policy/tokens", s.handleTokens).Methods("GET")
	api.HandleFunc("/policy/catalog", s.handleCatalog).Methods("GET")

	api.HandleFunc("/audit", s.handleAuditList).Methods("GET")
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) cfg() *config.Config {
	return s.config.Load()
}

// UpdateConfig applies a reloaded configuration. Only request defaults and
// rate limits take effect without a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.config.Store(cfg)
	if s.limiter != nil {
		s.limiter.Update(cfg.RateLimit)
	}
	s.logger.Info("Configuration reloaded",
		zap.String("default_sensitivity", cfg.Engine.DefaultSensitivity),
		zap.String("default_strategy", cfg.Policy.DefaultStrategy),
		zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute),
	)
}

// Start starts the background workers and the HTTP server. It blocks until
// the server stops.
func (s *Server) Start() error {
	cfg := s.cfg()
	s.logger.Info("Starting anonymization API server",
		zap.Int("port", cfg.Server.Port),
		zap.String("default_sensitivity", cfg.Engine.DefaultSensitivity),
		zap.String("default_framework", cfg.Policy.DefaultFramework),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
		go s.broadcastStatus(ctx, 30*time.Second)
	}
	if s.limiter != nil {
		s.limiter.StartCleanup(ctx, cfg.RateLimit.CleanupInterval)
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping anonymization API server")
	if s.cancel != nil {
		s.cancel()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) broadcastStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: s.systemStatus(),
			})
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := websocket.SystemStatusEvent{
		Status:          "healthy",
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		TotalRequests:   s.totalRequests.Load(),
		TotalDetections: s.totalDetections.Load(),
		PatternCount:    s.engine.Patterns().PatternCount(),
		MemoryUsage:     ingest.FormatFileSize(int64(mem.Alloc)),
	}
	if s.wsHub != nil {
		status.ConnectedClients = s.wsHub.ClientCount()
	}
	return status
}

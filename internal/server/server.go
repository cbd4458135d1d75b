// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aitprotocol/logicnet-dashboard/internal/aggregator"
	"github.com/aitprotocol/logicnet-dashboard/internal/circuitbreaker"
	"github.com/aitprotocol/logicnet-dashboard/internal/config"
	"github.com/aitprotocol/logicnet-dashboard/internal/health"
	"github.com/aitprotocol/logicnet-dashboard/internal/logging"
	"github.com/aitprotocol/logicnet-dashboard/internal/metrics"
	"github.com/aitprotocol/logicnet-dashboard/internal/ratelimit"
	"github.com/aitprotocol/logicnet-dashboard/internal/retry"
	"github.com/aitprotocol/logicnet-dashboard/internal/security"
	"github.com/aitprotocol/logicnet-dashboard/internal/session"
	"github.com/aitprotocol/logicnet-dashboard/internal/stats"
	"github.com/aitprotocol/logicnet-dashboard/internal/validation"
	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 5 * time.Second
	sweepInterval    = time.Minute
	drainDelay       = 5 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	fetcher      stats.Fetcher
	breaker      *circuitbreaker.Breaker
	sessions     *session.Store
	shared       *session.Session
	janitor      *session.Janitor
	aggregator   *aggregator.Aggregator
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	templates    map[string]*template.Template
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithFetcher replaces the upstream client (for testing)
func WithFetcher(f stats.Fetcher) Option {
	return func(s *Server) {
		s.fetcher = f
	}
}

// WithDrainDelay sets how long Shutdown waits before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: drainDelay,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.breaker = circuitbreaker.New(breakerThreshold, breakerCooldown)
	if s.fetcher == nil {
		s.fetcher = stats.NewClient(cfg.StatsBaseURL,
			stats.WithTimeout(cfg.FetchTimeout),
			stats.WithRetry(retry.Policy{
				Attempts:  cfg.FetchAttempts,
				BaseDelay: retryBaseDelay,
				MaxDelay:  retryMaxDelay,
			}),
			stats.WithBreaker(s.breaker),
			stats.WithRateLimit(cfg.FetchRPS),
			stats.WithLogger(s.logger),
		)
		s.logger.Info("statistics proxy configured",
			"base_url", cfg.StatsBaseURL,
			"timeout", cfg.FetchTimeout,
			"attempts", cfg.FetchAttempts,
		)
	}

	s.sessions = session.NewStore(cfg.SessionTTL, s.logger)
	s.shared = session.NewShared(cfg.SharedCacheTTL)
	s.janitor = session.NewJanitor(s.sessions, sweepInterval, s.logger)
	s.aggregator = aggregator.New(aggregator.WithBatchSize(cfg.ScoreBatchSize))

	s.health = health.NewRegistry()
	s.health.Register("upstream", health.UpstreamCheck(s.breaker,
		stats.EndpointMinerInformation, stats.EndpointMinerStatistics))
	s.health.Register("sessions", health.SessionsCheck(s.sessions, 0))

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	s.templates = templates

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	// ClientIP keys the rate limiter, so forwarded headers count only from
	// configured proxies.
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting, every cold session costs two upstream fetches
	if s.cfg.RateLimitRPM > 0 {
		s.rateLimiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: s.cfg.RateLimitRPM,
			BurstSize:         s.cfg.RateLimitBurst,
		})
		s.router.Use(s.rateLimiter.Middleware())
	}

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// sessionMiddleware attaches the caller's browser session, creating one and
// setting the cookie when the request carries none or an expired id.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(session.CookieName)
		sess, created := s.sessions.GetOrCreate(id)
		if created {
			maxAge := int(s.sessions.TTL().Seconds())
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(session.CookieName, sess.ID, maxAge, "/", "", s.cfg.IsProduction(), true)
		}

		c.Set(sessionKey, sess)
		c.Request = c.Request.WithContext(logging.WithSessionID(c.Request.Context(), sess.ID))
		c.Next()
	}
}

// apiSessionMiddleware attaches the caller's session when the request carries
// a live session cookie. Everyone else reads the shared snapshots, so API
// clients never create sessions.
func (s *Server) apiSessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := s.shared
		if id, err := c.Cookie(session.CookieName); err == nil && id != "" {
			if own, ok := s.sessions.Get(id); ok {
				sess = own
			}
		}

		c.Set(sessionKey, sess)
		c.Request = c.Request.WithContext(logging.WithSessionID(c.Request.Context(), sess.ID))
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Dashboard pages, one snapshot cache per browser session
	pages := s.router.Group("/", s.sessionMiddleware())
	pages.GET("/", s.dashboardHandler)
	pages.POST("/session/reset", s.resetSessionHandler)

	// JSON API, the page's snapshots for browsers, shared ones for everyone else
	api := s.router.Group("/api/v1", security.CORSMiddleware(nil), validation.UIDParamMiddleware(), s.apiSessionMiddleware())
	api.GET("/validators", s.listValidators)
	api.GET("/validators/:uid/overview", s.getOverview)
	api.GET("/validators/:uid/categories", s.getCategories)
	api.GET("/validators/:uid/timeline", s.getTimeline)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// A cold render waits on both upstream fetches.
		WriteTimeout: 2*s.cfg.FetchTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"validators", s.cfg.ValidatorUIDs,
			"default_validator", s.cfg.DefaultValidator,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Evict idle sessions
	go s.janitor.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.janitor.Stop()

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.logger.Info("server stopped", "sessions_dropped", s.sessions.Len())
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

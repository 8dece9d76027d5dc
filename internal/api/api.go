// Package api exposes reconciliation and connection status over HTTP.
//
// Routes:
//
//	POST /reconciliations                     run a reconciliation, JSON result
//	POST /reconciliations/export?category=... run a reconciliation, CSV attachment
//	GET  /connections                         every provider's connection state
//	GET  /connections/:provider/status        one provider's connection state
//	POST /connections/:provider/retry         manual connection re-check
//	POST /connections/:provider/events/:trigger  report a trigger, e.g. token_refresh_failed
//	GET  /health                              liveness
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ledgerlink-reconciliation-service/internal/connection"
	"ledgerlink-reconciliation-service/internal/reconciler"
	"ledgerlink-reconciliation-service/pkg/errors"
	"ledgerlink-reconciliation-service/pkg/logger"
)

// Config holds the HTTP server settings
type Config struct {
	Address         string        `json:"address" mapstructure:"address"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`

	// RateLimit is disabled when RequestsPerSecond is zero
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-client request limiter
type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `json:"burst" mapstructure:"burst"`
	CleanupInterval   time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// DefaultConfig returns the default server settings
func DefaultConfig() *Config {
	return &Config{
		Address:         ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    32 << 20,
		RateLimit: RateLimitConfig{
			CleanupInterval: time.Hour,
		},
	}
}

// Validate checks the server settings
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.InvalidConfigurationError("address", c.Address, fmt.Errorf("listen address is required"))
	}
	if c.MaxBodyBytes <= 0 {
		return errors.InvalidConfigurationError("max_body_bytes", c.MaxBodyBytes, fmt.Errorf("must be positive"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return errors.InvalidConfigurationError("rate_limit.requests_per_second", c.RateLimit.RequestsPerSecond, fmt.Errorf("cannot be negative"))
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return errors.InvalidConfigurationError("rate_limit.burst", c.RateLimit.Burst, fmt.Errorf("must be at least 1 when rate limiting is enabled"))
	}
	return nil
}

// Api serves the HTTP routes
type Api struct {
	service *reconciler.Service
	session *connection.Session
	config  *Config
	logger  logger.Logger
	router  *gin.Engine

	now   func() time.Time
	newID func() string
}

// Option customizes an Api
type Option func(*Api)

// WithClock replaces the time source used for processedAt
func WithClock(now func() time.Time) Option {
	return func(a *Api) { a.now = now }
}

// WithIDGenerator replaces the reconciliation id generator
func WithIDGenerator(newID func() string) Option {
	return func(a *Api) { a.newID = newID }
}

// NewAPI builds the router. session may be nil when no providers are configured.
func NewAPI(service *reconciler.Service, session *connection.Session, config *Config, log logger.Logger, opts ...Option) (*Api, error) {
	if service == nil {
		return nil, errors.InvalidConfigurationError("service", nil, fmt.Errorf("a reconciliation service is required"))
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	a := &Api{
		service: service,
		session: session,
		config:  config,
		logger:  log.WithComponent("api"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(a.logger), RateLimitMiddleware(config.RateLimit), BodyLimit(config.MaxBodyBytes))
	a.router = r
	a.routes()
	return a, nil
}

func (a *Api) routes() {
	a.router.GET("/health", a.Health)

	a.router.POST("/reconciliations", a.Reconcile)
	a.router.POST("/reconciliations/export", a.Export)

	a.router.GET("/connections", a.ListConnections)
	a.router.GET("/connections/:provider/status", a.ConnectionStatus)
	a.router.POST("/connections/:provider/retry", a.RetryConnection)
	a.router.POST("/connections/:provider/events/:trigger", a.ConnectionEvent)
}

// Router returns the gin engine
func (a *Api) Router() *gin.Engine {
	return a.router
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully
func (a *Api) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.config.Address,
		Handler:           a.router,
		ReadHeaderTimeout: a.config.ReadTimeout,
		ReadTimeout:       a.config.ReadTimeout,
		WriteTimeout:      a.config.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.WithField("address", a.config.Address).Info("HTTP server listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "http server failed").
				WithContext("address", a.config.Address)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.ShutdownTimeout)
	defer cancel()
	a.logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "http server shutdown failed")
	}
	return nil
}

// Package bootstrap assembles the pieces every stocklane service
// shares at startup: configuration, logging, metrics, tracing,
// database and Redis connections, the token issuer, and the public
// path allowlist. Each binary builds its own handlers and directory
// on top.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/config"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/observability"
	"github.com/stocklane/stocklane/pkg/storage/postgres"
)

// ServiceNames lists the deployable services. Every service's static
// directory carries an account for each so peer tokens resolve.
var ServiceNames = []string{"user-service", "inventory-service", "order-service"}

// Runtime holds the shared infrastructure of a running service.
type Runtime struct {
	ServiceName string
	Config      *config.Config
	Logger      *observability.Logger
	Registry    *prometheus.Registry
	Metrics     *observability.Metrics
	DB          *postgres.ConnectionManager
	Redis       *redis.Client
	Issuer      *auth.TokenIssuer
	Allowlist   *config.Allowlist

	providers *observability.OTelProviders
	cleanups  []observability.ShutdownFunc
	ctx       context.Context
	cancel    context.CancelFunc
}

// New loads configuration and connects the shared infrastructure.
// On error everything already opened is closed again.
func New(ctx context.Context, serviceName string) (*Runtime, error) {
	cfg, err := config.LoadConfig(serviceName)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", serviceName)

	ctx, cancel := context.WithCancel(ctx)
	rt := &Runtime{
		ServiceName: serviceName,
		Config:      cfg,
		Logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	rt.OnShutdown(func(context.Context) error {
		cancel()
		return nil
	})

	if cfg.Observability.MetricsEnabled {
		rt.Registry = prometheus.NewRegistry()
		rt.Metrics = observability.NewMetrics(serviceName, rt.Registry)
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.providers = providers
	if providers != nil {
		rt.OnShutdown(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	db, err := postgres.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.DB = db
	rt.OnShutdown(func(context.Context) error { return db.Close() })
	if err := db.WaitTimeout(ctx, cfg.Database.ConnectTimeout); err != nil {
		rt.close()
		return nil, fmt.Errorf("database did not become ready: %w", err)
	}

	if cfg.Redis.URL != "" {
		redisClient, err := postgres.NewRedisClient(cfg.Redis)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.Redis = redisClient
		rt.OnShutdown(func(context.Context) error { return redisClient.Close() })
	}

	rt.Issuer = auth.NewTokenIssuer([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL, cfg.Auth.NearExpiryThreshold)

	allowlist, err := loadAllowlist(ctx, cfg.Auth, logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.Allowlist = allowlist

	return rt, nil
}

func loadAllowlist(ctx context.Context, cfg config.AuthConfig, logger *observability.Logger) (*config.Allowlist, error) {
	if cfg.AllowlistFile == "" {
		return config.NewStaticAllowlist(cfg.PublicPathPrefixes), nil
	}
	allowlist, err := config.LoadAllowlist(cfg.AllowlistFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load public path allowlist: %w", err)
	}
	if err := allowlist.Watch(ctx, logger); err != nil {
		return nil, fmt.Errorf("failed to watch public path allowlist: %w", err)
	}
	return allowlist, nil
}

// Authenticator builds the request authentication filter over the
// given principal directory.
func (rt *Runtime) Authenticator(directory auth.Directory) *middleware.Authenticator {
	return middleware.NewAuthenticator(rt.Issuer, directory, rt.Allowlist, rt.Logger, rt.Metrics)
}

// OnShutdown registers a cleanup to run during graceful shutdown, in
// registration order.
func (rt *Runtime) OnShutdown(fn observability.ShutdownFunc) {
	rt.cleanups = append(rt.cleanups, fn)
}

// Run serves the API handler plus the health/metrics listener and
// blocks until a termination signal drains both.
func (rt *Runtime) Run(handler http.Handler) error {
	cfg := rt.Config.Server

	if rt.providers != nil {
		handler = otelhttp.NewHandler(handler, rt.ServiceName)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.HealthPort),
		Handler: rt.healthHandler(),
	}

	shutdown := observability.NewShutdownManager(rt.Logger, cfg.ShutdownTimeout, apiServer, healthServer)
	for _, fn := range rt.cleanups {
		shutdown.RegisterShutdownFunc(fn)
	}

	go rt.maintainDB()

	var g errgroup.Group
	g.Go(func() error {
		rt.Logger.WithField("addr", apiServer.Addr).Info("serving API")
		return ignoreServerClosed(apiServer.ListenAndServe())
	})
	g.Go(func() error {
		rt.Logger.WithField("addr", healthServer.Addr).Info("serving health and metrics")
		return ignoreServerClosed(healthServer.ListenAndServe())
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}

// maintainDB periodically pings the database pool, drops replicas
// that stop responding, and refreshes pool gauges.
func (rt *Runtime) maintainDB() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(rt.ctx, 5*time.Second)
			if err := rt.DB.HealthCheck(ctx); err != nil {
				rt.Logger.WithError(err).Warn("database health check failed")
				if removed := rt.DB.RemoveUnhealthyReplicas(ctx); removed > 0 {
					rt.Logger.WithField("removed", removed).Warn("dropped unhealthy replicas")
				}
			}
			cancel()
			if rt.Metrics != nil {
				rt.Metrics.CollectDBStats(rt.DB.Primary())
			}
		}
	}
}

func (rt *Runtime) healthHandler() http.Handler {
	var db *sql.DB
	if rt.DB != nil {
		db = rt.DB.Primary()
	}
	health := observability.NewHealthChecker(db, rt.Redis)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Liveness)
	mux.HandleFunc("/readyz", health.Readiness)
	if rt.Registry != nil {
		mux.Handle("/metrics", observability.Handler(rt.Registry))
	}
	return mux
}

func (rt *Runtime) close() {
	ctx := context.Background()
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		if err := rt.cleanups[i](ctx); err != nil {
			rt.Logger.WithError(err).Warn("cleanup failed")
		}
	}
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

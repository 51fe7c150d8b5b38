package main

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/stocklane/stocklane/pkg/api"
	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/bootstrap"
	"github.com/stocklane/stocklane/pkg/jobs"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/storage/postgres"
	"github.com/stocklane/stocklane/pkg/users"
)

func main() {
	rt, err := bootstrap.New(context.Background(), "user-service")
	if err != nil {
		log.Fatalf("Failed to start user-service: %v", err)
	}
	cfg := rt.Config

	if err := postgres.RunMigrations(context.Background(), rt.DB.Primary(), users.Migrations(), rt.Logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	userService := users.NewPostgresService(rt.DB.Primary())

	// Peer services authenticate with svc:<name> tokens; everyone
	// else resolves against the users table.
	directory := auth.NewMultiDirectory(
		auth.NewServiceDirectory(bootstrap.ServiceNames...),
		auth.NewPostgresDirectory(rt.DB.Replica()),
	)

	var loginLimiter *middleware.RateLimiter
	if rt.Redis != nil {
		loginLimiter = middleware.NewRateLimiter(rt.Redis, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Auth.LoginRateLimit,
			WindowDuration:    cfg.Auth.LoginRateWindow,
		}, "login")
	}

	router := api.NewRouter(api.RouterConfig{
		Logger:        rt.Logger,
		Metrics:       rt.Metrics,
		Authenticator: rt.Authenticator(directory),
	})
	api.NewAuthHandlers(userService, rt.Issuer, loginLimiter, rt.Metrics).RegisterRoutes(router)
	api.NewUserHandlers(userService).RegisterRoutes(router)

	scheduler := jobs.NewScheduler(cfg.Jobs, nil, userService, logrus.New(), rt.Metrics)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start maintenance jobs: %v", err)
	}
	rt.OnShutdown(func(context.Context) error {
		scheduler.Stop()
		return nil
	})

	if err := rt.Run(router); err != nil {
		log.Fatalf("user-service exited: %v", err)
	}
}

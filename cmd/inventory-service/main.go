package main

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/stocklane/stocklane/pkg/api"
	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/bootstrap"
	"github.com/stocklane/stocklane/pkg/client"
	"github.com/stocklane/stocklane/pkg/inventory"
	"github.com/stocklane/stocklane/pkg/jobs"
	"github.com/stocklane/stocklane/pkg/storage/postgres"
)

func main() {
	rt, err := bootstrap.New(context.Background(), "inventory-service")
	if err != nil {
		log.Fatalf("Failed to start inventory-service: %v", err)
	}
	cfg := rt.Config

	if err := postgres.RunMigrations(context.Background(), rt.DB.Primary(), inventory.Migrations(), rt.Logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	var cache *postgres.TieredCache
	if cfg.Cache.Enabled && rt.Redis != nil {
		cache = postgres.NewTieredCache(rt.Redis, cfg.Cache.L1Size, cfg.Cache.TTL, "inventory", rt.Metrics)
	}
	inventoryService := inventory.NewPostgresService(rt.DB.Primary(), cache)

	// User principals resolve through the user-service; peer services
	// through the static directory.
	tokens := client.NewServiceTokenSource(rt.Issuer, "inventory-service")
	userDirectory := client.NewUserClient(cfg.Clients.UserServiceURL, cfg.Clients.RequestTimeout, tokens)
	directory := auth.NewMultiDirectory(
		auth.NewServiceDirectory(bootstrap.ServiceNames...),
		userDirectory,
	)

	router := api.NewRouter(api.RouterConfig{
		Logger:        rt.Logger,
		Metrics:       rt.Metrics,
		Authenticator: rt.Authenticator(directory),
	})
	api.NewInventoryHandlers(inventoryService, cfg.Jobs.ReservationTTL, rt.Metrics).RegisterRoutes(router)

	scheduler := jobs.NewScheduler(cfg.Jobs, inventoryService, nil, logrus.New(), rt.Metrics)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start maintenance jobs: %v", err)
	}
	rt.OnShutdown(func(context.Context) error {
		scheduler.Stop()
		return nil
	})

	if err := rt.Run(router); err != nil {
		log.Fatalf("inventory-service exited: %v", err)
	}
}

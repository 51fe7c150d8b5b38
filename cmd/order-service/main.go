package main

import (
	"context"
	"log"

	"github.com/stocklane/stocklane/pkg/api"
	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/bootstrap"
	"github.com/stocklane/stocklane/pkg/client"
	"github.com/stocklane/stocklane/pkg/orders"
	"github.com/stocklane/stocklane/pkg/storage/postgres"
)

func main() {
	rt, err := bootstrap.New(context.Background(), "order-service")
	if err != nil {
		log.Fatalf("Failed to start order-service: %v", err)
	}
	cfg := rt.Config

	if err := postgres.RunMigrations(context.Background(), rt.DB.Primary(), orders.Migrations(), rt.Logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	tokens := client.NewServiceTokenSource(rt.Issuer, "order-service")
	userDirectory := client.NewUserClient(cfg.Clients.UserServiceURL, cfg.Clients.RequestTimeout, tokens)
	stock := client.NewInventoryClient(cfg.Clients.InventoryServiceURL, cfg.Clients.RequestTimeout, tokens, cfg.Jobs.ReservationTTL)

	directory := auth.NewMultiDirectory(
		auth.NewServiceDirectory(bootstrap.ServiceNames...),
		userDirectory,
	)

	orderService := orders.NewPostgresService(rt.DB.Primary(), userDirectory, stock, rt.Logger, rt.Metrics)

	router := api.NewRouter(api.RouterConfig{
		Logger:        rt.Logger,
		Metrics:       rt.Metrics,
		Authenticator: rt.Authenticator(directory),
	})
	api.NewOrderHandlers(orderService).RegisterRoutes(router)

	if err := rt.Run(router); err != nil {
		log.Fatalf("order-service exited: %v", err)
	}
}

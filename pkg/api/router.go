package api

import (
	"github.com/gorilla/mux"

	"github.com/stocklane/stocklane/pkg/httputil"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/observability"
)

// RouterConfig carries the cross-cutting pieces every service router
// shares.
type RouterConfig struct {
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Authenticator *middleware.Authenticator
}

// NewRouter builds a router with the standard middleware chain:
// request ID, panic recovery, logging, metrics, then authentication. Handlers
// registered on it see at most one principal per request.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()

	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.RecoveryMiddleware)
	if cfg.Logger != nil {
		router.Use(httputil.LoggingMiddleware(cfg.Logger))
	}
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.HTTPMiddleware)
	}
	if cfg.Authenticator != nil {
		router.Use(cfg.Authenticator.Handler)
	}

	return router
}

package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	ginhandler "user-directory-service/internal/adapter/gin/handler"
	"user-directory-service/internal/adapter/gin/middleware"
	ginrouter "user-directory-service/internal/adapter/gin/router"
)

// SetupGinServer creates and configures the REST API server
func SetupGinServer(
	handler *ginhandler.UserHandler,
	rateLimiter *middleware.RateLimiter,
	checks []ginrouter.HealthCheck,
	trustedProxies []string,
	addr string,
	l *zap.Logger,
) *http.Server {
	router := ginrouter.SetupRouter(handler, rateLimiter, checks, trustedProxies, l)

	l.Info("REST API configured",
		zap.String("address", addr),
		zap.Bool("rate_limit", rateLimiter != nil),
		zap.Strings("trusted_proxies", trustedProxies),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

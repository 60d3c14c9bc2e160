package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"user-directory-service/api/swagger"
	"user-directory-service/internal/adapter/gin/handler"
	"user-directory-service/internal/adapter/gin/middleware"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency. A failing critical check turns the
// health endpoint into a 503; other failures only show up in the body.
type HealthCheck struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

// SetupRouter configures and returns a Gin router with all routes and middleware.
// A nil rateLimiter disables rate limiting. Forwarding headers are honoured
// only from trustedProxies; with none, the client IP is the peer address.
func SetupRouter(
	userHandler *handler.UserHandler,
	rateLimiter *middleware.RateLimiter,
	checks []HealthCheck,
	trustedProxies []string,
	log *zap.Logger,
) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		log.Error("invalid trusted proxies, trusting none", zap.Strings("trusted_proxies", trustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))

	router.GET("/health", health(checks))
	router.GET("/openapi.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", swagger.Spec)
	})
	router.GET("/swagger/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/openapi.json"))))

	users := router.Group("/users")
	if rateLimiter != nil {
		users.Use(rateLimiter.Middleware())
	}
	for _, prefix := range []string{"", "/"} {
		users.POST(prefix, userHandler.CreateUser)
		users.GET(prefix, userHandler.ListUsers)
	}
	users.GET("/:id", userHandler.GetUser)
	users.PUT("/:id", userHandler.UpdateUser)
	users.DELETE("/:id", userHandler.DeleteUser)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})

	return router
}

func health(checks []HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, check := range checks {
			if err := check.Ping(ctx); err != nil {
				results[check.Name] = err.Error()
				if check.Critical {
					status = http.StatusServiceUnavailable
				}
				continue
			}
			results[check.Name] = "ok"
		}

		body := gin.H{"status": "healthy"}
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		if len(results) > 0 {
			body["checks"] = results
		}
		c.JSON(status, body)
	}
}

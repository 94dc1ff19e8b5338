package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/martiola68/studio-manager-pro-sub002/internal/config"
	"github.com/martiola68/studio-manager-pro-sub002/internal/http/handler"
	"github.com/martiola68/studio-manager-pro-sub002/internal/http/middleware"
	"github.com/martiola68/studio-manager-pro-sub002/internal/tenant"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	m365Handler *handler.M365Handler,
	vaultHandler *handler.VaultHandler,
	authMiddleware *middleware.Auth,
	resolver *tenant.Resolver,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tenanted := r.Group("/", middleware.Tenant(resolver), middleware.TenantCORS(cfg))

	m365 := tenanted.Group("/m365")
	{
		// The browser arrives here from the identity provider without a
		// session, so the callback stays outside the JWT gate.
		m365.GET("/callback", m365Handler.Callback)

		authed := m365.Group("", authMiddleware.ValidateJWT)
		{
			authed.POST("/connect", m365Handler.Connect)
			authed.GET("/status", m365Handler.Status)
			authed.POST("/disconnect", m365Handler.Disconnect)

			authed.GET("/config", m365Handler.GetConfig)
			authed.PUT("/config", middleware.RequireAdmin, m365Handler.SaveConfig)
			authed.POST("/config/test", middleware.RequireAdmin, m365Handler.TestConnection)

			authed.GET("/calendar/events", m365Handler.ListCalendarEvents)
			authed.POST("/calendar/events", m365Handler.CreateCalendarEvent)
		}
	}

	vault := tenanted.Group("/vault", authMiddleware.ValidateJWT)
	{
		vault.POST("/unlock", vaultHandler.Unlock)
		vault.POST("/lock", vaultHandler.Lock)
		vault.GET("/status", vaultHandler.Status)
	}

	return r
}

package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/adhtanjung/productphoto/internal/config"
	"github.com/adhtanjung/productphoto/internal/database"
	"github.com/adhtanjung/productphoto/internal/handlers"
	"github.com/adhtanjung/productphoto/internal/middleware"
	"github.com/adhtanjung/productphoto/internal/webhook"
)

// Deps bundles everything Setup needs to wire routes.
type Deps struct {
	DB        *database.DB
	Cfg       *config.Config
	Ingress   *webhook.Ingress
	Jobs      *handlers.JobsHandler
	Processor *handlers.ProcessorHandler
}

// Setup creates and configures the Gin router of spec §6.
func Setup(d Deps) *gin.Engine {
	router := setupBaseRouter(d.Cfg)

	router.GET("/health", healthCheck(d.DB))
	router.POST("/webhooks/source/images", d.Ingress.Handle)

	admin := router.Group("")
	admin.Use(middleware.AdminAuth(d.Cfg.AdminToken))
	{
		admin.GET("/jobs", d.Jobs.List)
		admin.GET("/jobs/stats", d.Jobs.Stats)
		admin.GET("/jobs/:id", d.Jobs.Get)
		admin.POST("/jobs/:id/retry", d.Jobs.Retry)
		admin.POST("/jobs/:id/fail", d.Jobs.Fail)
		admin.GET("/jobs/:id/presign", d.Jobs.Presign)

		admin.POST("/processor/start", d.Processor.Start)
		admin.POST("/processor/stop", d.Processor.Stop)
		admin.POST("/processor/status", d.Processor.Status)
	}

	return router
}

func setupBaseRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()

	router.Use(otelgin.Middleware("productphoto"))
	router.Use(middleware.Observability())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit())

	// Trust no proxy headers, in every environment.
	router.SetTrustedProxies(nil)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Authorization", "Accept",
		"User-Agent", "Cache-Control", "Pragma", "x-source-signature",
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	return router
}

func healthCheck(db *database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now().Unix(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"version":   "1.0",
			"timestamp": time.Now().Unix(),
		})
	}
}

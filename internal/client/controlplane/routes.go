package controlplane

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/confsync/confsync/internal/client/config"
	"github.com/confsync/confsync/internal/client/sync"
	"github.com/confsync/confsync/internal/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func SetupRoutes(cpConfig *CPServerConfig, cfg *config.Config, mgr *sync.Manager) http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	rateLimiter := limiter.New(memory.NewStore(), limiter.Rate{
		Period: 1 * time.Second,
		Limit:  20,
	})

	h := newHandler(cfg, mgr)

	r.Use(gin.Recovery())
	r.Use(mgin.NewMiddleware(rateLimiter))

	r.GET("/", IndexHandler)

	v1 := r.Group("/v1")
	v1.Use(TokenAuth(cpConfig.AuthToken))
	{
		v1.GET("/status", h.Status)

		v1Sync := v1.Group("/sync")
		{
			v1Sync.GET("/status", h.SyncStatus)
			v1Sync.GET("/events", h.SyncEvents)
			v1Sync.POST("/now", h.SyncNow)
		}

		v1Conflicts := v1.Group("/conflicts")
		{
			v1Conflicts.GET("", h.Conflicts)
			v1Conflicts.POST("/resolve", h.Resolve)
		}

		v1.GET("/transfers", h.Transfers)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     version.AppName,
		"version": version.Detailed(),
	})
}

package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/confsync/confsync/internal/relay/middleware"
	"github.com/confsync/confsync/internal/relay/ws"
	"github.com/confsync/confsync/internal/version"
)

func SetupRoutes(svc *Services, hub *ws.WebsocketHub) http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	authH := NewAuthHandler(svc.Auth)
	syncH := NewSyncHandler(svc.Store, hub)
	chunkH := NewChunkHandler(svc.Blob)
	heartbeatH := NewHeartbeatHandler(svc.Store, svc.Presence, hub)

	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.GZIP())
	r.Use(middleware.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	// otp endpoints are throttled hard, token refresh less so
	otpLimiter := middleware.RateLimiter("10-M")
	r.POST("/auth/otp/request", otpLimiter, authH.OTPRequest)
	r.POST("/auth/otp/verify", otpLimiter, authH.OTPVerify)
	r.POST("/auth/refresh", middleware.RateLimiter("60-M"), authH.Refresh)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(svc.Auth))
	{
		// sync metadata
		v1.POST("/sync/report", syncH.Report)
		v1.GET("/sync/changes", syncH.Changes)
		v1.GET("/sync/conflicts", syncH.Conflicts)
		v1.POST("/sync/conflicts/:id/resolve", syncH.ResolveConflict)

		// content chunks
		v1.PUT("/chunks/:hash/:index", chunkH.Upload)
		v1.GET("/chunks/:hash/:index", chunkH.Download)
		v1.HEAD("/chunks/:hash", chunkH.Stat)
		v1.POST("/chunks/:hash/complete", chunkH.Register)

		// websocket events
		v1.GET("/events", hub.WebsocketHandler)

		// liveness
		v1.POST("/heartbeat", heartbeatH.Heartbeat)
		v1.GET("/replicas", heartbeatH.Replicas)
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

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

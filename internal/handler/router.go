package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		admin := api.Group("/admin/red-packet")
		{
			activities := admin.Group("/activities")
			activities.POST("", h.CreateActivity)
			activities.GET("", h.ListActivities)
			activities.GET("/:id", h.GetActivity)
			activities.GET("/:id/packets", h.ListPackets)
			activities.GET("/:id/records", h.ListRecords)
			activities.GET("/:id/stats", h.GetActivityStats)
			activities.POST("/:id/start", h.StartActivity)
			activities.POST("/:id/end", h.EndActivity)
			activities.POST("/:id/cancel", h.CancelActivity)
			activities.POST("/:id/preload", h.PreloadActivity)
			activities.POST("/:id/evict", h.EvictActivity)

			admin.POST("/settlement/run", h.RunSettlement)
		}

		user := api.Group("/red-packet", UserIdentityMiddleware())
		{
			user.GET("/activities", h.ListOngoing)
			user.GET("/activities/:id", h.GetActivityForUser)
			user.POST("/grab", h.Grab)
			user.GET("/records", h.ListMyRecords)
			user.GET("/stats", h.GetMyStats)
			user.GET("/balance", h.GetBalance)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

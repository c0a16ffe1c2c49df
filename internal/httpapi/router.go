package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptail/sales-agent/internal/common"
	"github.com/uptail/sales-agent/internal/httpapi/handlers"
	"github.com/uptail/sales-agent/internal/httpapi/middleware"
	"go.uber.org/zap"
)

// NewRouter wires every route. gatherer backs /metrics; nil uses the default
// Prometheus registry.
func NewRouter(h *handlers.Handler, log *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	ag := r.Group("/agent")
	ag.GET("/respond", h.RespondUsage)
	ag.POST("/respond", h.Respond)
	ag.POST("/respond/async", h.RespondAsync)
	ag.GET("/jobs/:job_id", h.GetJob)

	gl := r.Group("/guidelines")
	gl.GET("", h.ListGuidelines)
	gl.POST("", h.CreateGuideline)
	gl.GET("/search", h.SearchGuidelines)
	gl.GET("/:id", h.GetGuideline)

	ss := r.Group("/sessions")
	ss.GET("", h.ListSessions)
	ss.POST("", h.CreateSession)
	ss.DELETE("", h.DeleteSessions)
	ss.DELETE("/:id", h.DeleteSession)
	ss.GET("/:id/messages", h.ListMessages)
	ss.POST("/:id/messages", h.AppendMessage)
	ss.GET("/:id/guideline-usage", h.ListSessionUsage)
	ss.GET("/:id/guideline-usage/:usage_id", h.GetUsage)

	r.GET("/messages/:message_id/guideline-usage", h.ListMessageUsage)

	return r
}

package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chaos-io/img2mesh/metrics"
	"github.com/chaos-io/img2mesh/middleware"
)

type RouterOptions struct {
	MaxUploadSize  int64
	RateLimitRPS   float64
	RateLimitBurst int
	// Gatherer 为 nil 时 /metrics 暴露默认 registry
	Gatherer prometheus.Gatherer
}

// NewRouter 注册所有路由；ctx 结束时限流器的清理协程退出
func NewRouter(ctx context.Context, h *Handler, collector *metrics.Collector, opts RouterOptions, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(collector))

	r.GET("/", h.Index)
	r.Static(outputRoute, h.pipe.OutputDir())

	r.GET("/health", h.Health)
	r.GET("/version", h.Version)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.GET("/jobs/:id", h.GetJob)

	upload := api.Group("", middleware.RateLimiter(ctx, opts.RateLimitRPS, opts.RateLimitBurst, logger), middleware.BodyLimit(opts.MaxUploadSize))
	{
		upload.POST("/preprocess", h.Preprocess)
		upload.POST("/generate", h.Generate)
	}

	return r
}

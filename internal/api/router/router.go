package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/upload-pipeline/internal/api/handler"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
)

// Options toggles the optional parts of the router
type Options struct {
	ServiceName string
	// MetricsPath exposes prometheus metrics when set
	MetricsPath string
	// RateLimit limits upload submissions per user when set
	RateLimit *RateLimiterConfig
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(MetricsMiddleware())

	healthHandler := handler.NewHealthHandler(opts.ServiceName, deps)
	r.GET("/health", healthHandler.Health)

	if opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	uploadHandler := handler.NewUploadHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1", RequireUser(deps.Logger))
	{
		uploads := v1.Group("/uploads")
		{
			// POST /api/v1/uploads - Submit a batch of files
			if opts.RateLimit != nil {
				uploads.POST("", NewRateLimiter(*opts.RateLimit), uploadHandler.CreateUpload)
			} else {
				uploads.POST("", uploadHandler.CreateUpload)
			}

			// GET /api/v1/uploads/:job_id - Get job status
			uploads.GET("/:job_id", uploadHandler.GetUpload)
		}

		files := v1.Group("/files")
		{
			// GET /api/v1/files - List the caller's files
			files.GET("", uploadHandler.ListFiles)

			// GET /api/v1/files/:file_id/download - Download a completed file
			files.GET("/:file_id/download", uploadHandler.DownloadFile)

			// DELETE /api/v1/files/:file_id - Delete a file
			files.DELETE("/:file_id", uploadHandler.DeleteFile)
		}

		// GET /api/v1/activities - List the caller's audit log
		v1.GET("/activities", uploadHandler.ListActivities)
	}

	return r
}

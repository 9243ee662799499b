package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler the service mounts.
type Handlers struct {
	Publication *PublicationHandler
	Jobs        *JobHandler
	Files       *FileHandler
	Metrics     *MetricsHandler
}

// Register mounts the pipeline API under api and the probes on root.
func Register(root *gin.Engine, api *gin.RouterGroup, h Handlers) {
	root.GET("/health", h.Metrics.Health)
	root.GET("/metrics", h.Metrics.Prometheus)

	api.GET("/metrics/snapshot", h.Metrics.Snapshot)

	theses := api.Group("/theses")
	theses.GET("/:id", h.Publication.Get)
	theses.POST("/:id/publish", h.Publication.Publish)
	theses.PATCH("/:id/authors", h.Publication.UpdateAuthors)

	api.POST("/publications/batch", h.Publication.PublishBatch)
	api.POST("/reconciliations", h.Jobs.Reconcile)
	api.POST("/preservations", h.Jobs.Preserve)
	api.POST("/proquest/exports", h.Jobs.ProquestExport)
	api.POST("/marc/exports", h.Jobs.MarcExport)
	api.GET("/jobs/:id", h.Jobs.Status)

	api.GET("/files/:token", h.Files.Download)
}

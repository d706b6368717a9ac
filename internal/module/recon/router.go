package recon

import (
	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/broadcast"
	"aqmap-bk/internal/pkg/fleet"
)

type Router struct {
	runner *Runner
	fleet  *fleet.Aggregator
	hub    *broadcast.Hub
	auth   gin.HandlerFunc
}

func NewRouter(runner *Runner, fleet *fleet.Aggregator, hub *broadcast.Hub, auth gin.HandlerFunc) *Router {
	return &Router{runner: runner, fleet: fleet, hub: hub, auth: auth}
}

func (rt *Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1/reconstruct", rt.auth)
	{
		v1.POST("/:id", rt.HandlerStartReconstruction) // POST /api/v1/reconstruct/:id
		v1.GET("/:id/status", rt.HandlerReconStatus)   // GET  /api/v1/reconstruct/:id/status
		v1.GET("/:id/results", rt.HandlerReconResults) // GET  /api/v1/reconstruct/:id/results
		v1.GET("/:id/images", rt.HandlerReconImages)   // GET  /api/v1/reconstruct/:id/images
	}
	// plots are embedded by the dashboard with plain <img> tags, no auth header
	r.GET("/api/v1/reconstruct/:id/image/*path", rt.HandlerReconImage)
}

package trial

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/broadcast"
	"aqmap-bk/internal/pkg/client/dockerd"
	"aqmap-bk/internal/pkg/fleet"
)

// Dispatcher starts a single trial workload with trial-derived configuration.
type Dispatcher interface {
	Dispatch(ctx context.Context, trialID int) (dockerd.Workload, error)
}

// Reconstructor is the slice of the reconstruction runner the trial module
// needs when deleting a trial's data.
type Reconstructor interface {
	Kill(trialID int) bool
	ResultsDir(trialID int) string
}

type Router struct {
	backend     dockerd.API
	fleet       *fleet.Aggregator
	hub         *broadcast.Hub
	dispatcher  Dispatcher
	recon       Reconstructor
	auth        gin.HandlerFunc
	stopTimeout time.Duration
	logger      *slog.Logger
}

func NewRouter(backend dockerd.API, fleet *fleet.Aggregator, hub *broadcast.Hub,
	dispatcher Dispatcher, recon Reconstructor, auth gin.HandlerFunc, logger *slog.Logger) *Router {
	return &Router{
		backend:     backend,
		fleet:       fleet,
		hub:         hub,
		dispatcher:  dispatcher,
		recon:       recon,
		auth:        auth,
		stopTimeout: 10 * time.Second,
		logger:      logger,
	}
}

func (rt *Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1", rt.auth)
	{
		v1.POST("/trial/start/:id", rt.HandlerStartTrial) // POST   /api/v1/trial/start/:id
		v1.POST("/trial/stop/:id", rt.HandlerStopTrial)   // POST   /api/v1/trial/stop/:id
		v1.DELETE("/trial/:id", rt.HandlerRemoveTrial)    // DELETE /api/v1/trial/:id
		v1.GET("/logs/:id", rt.HandlerTrialLogs)          // GET    /api/v1/logs/:id

		v1.GET("/trials/completed", rt.HandlerCompletedTrials) // GET    /api/v1/trials/completed
		v1.GET("/trial/:id/data", rt.HandlerTrialData)         // GET    /api/v1/trial/:id/data
		v1.GET("/download/:id", rt.HandlerDownloadTrial)       // GET    /api/v1/download/:id
		v1.DELETE("/trial/:id/data", rt.HandlerDeleteData)     // DELETE /api/v1/trial/:id/data
	}
}

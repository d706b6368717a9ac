package batch

import (
	"github.com/gin-gonic/gin"
)

type Router struct {
	scheduler *Scheduler
	auth      gin.HandlerFunc
}

func NewRouter(scheduler *Scheduler, auth gin.HandlerFunc) *Router {
	return &Router{scheduler: scheduler, auth: auth}
}

func (rt *Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1/batch", rt.auth)
	{
		v1.POST("/start", rt.HandlerStartBatch)   // POST /api/v1/batch/start
		v1.POST("/cancel", rt.HandlerCancelBatch) // POST /api/v1/batch/cancel
		v1.POST("/stop", rt.HandlerStopAll)       // POST /api/v1/batch/stop
		v1.GET("/status", rt.HandlerBatchStatus)  // GET  /api/v1/batch/status
	}
}

package batch

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/response"
)

type StartRequest struct {
	StartTrial int `json:"start_trial" binding:"required,gte=1"`
	EndTrial   int `json:"end_trial" binding:"required,gte=1"`
	Concurrent int `json:"concurrent"`
}

// HandlerStartBatch starts a batch of trials with continuous reconciliation.
// Execution flow:
//   - parse the request body, concurrent defaults to 3
//   - Scheduler.Start replaces any active batch and fills capacity before
//     returning, so the response already lists the initially started trials
//
// @Summary 启动批次
// @Description 按 [start_trial, end_trial] 范围启动批次, 受 concurrent 并发上限约束; 替换当前活动批次但不停止其已运行的容器.
// @Tags 批次
// @Accept json
// @Produce json
// @Param body body StartRequest true "批次范围与并发上限"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/batch/start [post]
func (rt *Router) HandlerStartBatch(c *gin.Context) {
	var in StartRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid request body: " + err.Error()})
		return
	}
	if in.Concurrent <= 0 {
		in.Concurrent = 3
	}

	started, err := rt.scheduler.Start(c.Request.Context(), in.StartTrial, in.EndTrial, in.Concurrent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to start batch: " + err.Error()})
		return
	}

	st := rt.scheduler.Status()
	c.JSON(http.StatusOK, response.Response{Results: gin.H{
		"started": started,
		"total":   in.EndTrial - in.StartTrial + 1,
		"pending": st.Pending,
		"message": fmt.Sprintf("Batch started: %d trials running, %d pending", len(started), st.Pending),
	}})
}

// HandlerCancelBatch cancels the active batch. Running containers continue.
//
// @Summary 取消批次
// @Description 取消当前活动批次(清空待调度队列), 已运行的容器不受影响. 幂等.
// @Tags 批次
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/batch/cancel [post]
func (rt *Router) HandlerCancelBatch(c *gin.Context) {
	rt.scheduler.Cancel()
	rt.scheduler.hub.Broadcast(gin.H{"event": "batch_cancelled"})
	c.JSON(http.StatusOK, response.Response{Detail: "Batch cancelled - running containers will continue"})
}

// HandlerStopAll stops all running fleet workloads and cancels the batch.
//
// @Summary 停止所有试验
// @Description 取消批次并停止所有运行中的仿真容器.
// @Tags 批次
// @Produce json
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/batch/stop [post]
func (rt *Router) HandlerStopAll(c *gin.Context) {
	stopped, err := rt.scheduler.StopAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to stop trials: " + err.Error()})
		return
	}
	rt.scheduler.hub.Broadcast(gin.H{"event": "batch_stopped", "containers": stopped})
	c.JSON(http.StatusOK, response.Response{Results: gin.H{"stopped": stopped}})
}

// HandlerBatchStatus returns the current batch status document.
//
// @Summary 获取批次状态
// @Tags 批次
// @Produce json
// @Success 200 {object} response.Response{results=Status}
// @Router /api/v1/batch/status [get]
func (rt *Router) HandlerBatchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, response.Response{Results: rt.scheduler.Status()})
}

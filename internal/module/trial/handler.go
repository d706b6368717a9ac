package trial

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/client/dockerd"
	"aqmap-bk/internal/pkg/response"
)

func trialID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid trial id"})
		return 0, false
	}
	return id, true
}

// HandlerStartTrial starts a single trial outside of any batch. A stale
// workload with the same name is replaced.
//
// @Summary 启动单个试验
// @Description 启动指定编号的仿真容器; 同名的历史容器会被强制替换.
// @Tags 试验
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/trial/start/{id} [post]
func (rt *Router) HandlerStartTrial(c *gin.Context) {
	id, ok := trialID(c)
	if !ok {
		return
	}
	w, err := rt.dispatcher.Dispatch(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to start trial: " + err.Error()})
		return
	}
	rt.hub.Broadcast(gin.H{"event": "trial_started", "trial_id": id})
	c.JSON(http.StatusOK, response.Response{Results: gin.H{
		"trial_id": id,
		"name":     w.Name,
		"vnc_port": w.PublishedPort,
	}})
}

// HandlerStopTrial stops a running trial workload.
//
// @Summary 停止试验
// @Tags 试验
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/trial/stop/{id} [post]
func (rt *Router) HandlerStopTrial(c *gin.Context) {
	id, ok := trialID(c)
	if !ok {
		return
	}
	name := rt.fleet.WorkloadName(id)
	if err := rt.backend.Stop(c.Request.Context(), name, rt.stopTimeout); err != nil {
		if errors.Is(err, dockerd.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.Response{Detail: "trial " + c.Param("id") + " not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to stop trial: " + err.Error()})
		return
	}
	rt.hub.Broadcast(gin.H{"event": "trial_stopped", "trial_id": id})
	c.JSON(http.StatusOK, response.Response{Detail: "trial " + c.Param("id") + " stopped"})
}

// HandlerRemoveTrial force-removes a trial workload. Sample data on disk is
// kept; use the data delete endpoint for that.
//
// @Summary 删除试验容器
// @Description 强制删除仿真容器, 磁盘上的采样数据保留.
// @Tags 试验
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/trial/{id} [delete]
func (rt *Router) HandlerRemoveTrial(c *gin.Context) {
	id, ok := trialID(c)
	if !ok {
		return
	}
	name := rt.fleet.WorkloadName(id)
	if err := rt.backend.Remove(c.Request.Context(), name, true); err != nil {
		if errors.Is(err, dockerd.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.Response{Detail: "trial " + c.Param("id") + " not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to remove trial: " + err.Error()})
		return
	}
	rt.hub.Broadcast(gin.H{"event": "trial_removed", "trial_id": id})
	c.JSON(http.StatusOK, response.Response{Detail: "trial " + c.Param("id") + " removed"})
}

// HandlerTrialLogs returns the tail of a trial workload's log stream.
//
// @Summary 获取试验日志
// @Tags 试验
// @Produce json
// @Param id path int true "试验编号"
// @Param lines query int false "日志行数" default(100)
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/logs/{id} [get]
func (rt *Router) HandlerTrialLogs(c *gin.Context) {
	id, ok := trialID(c)
	if !ok {
		return
	}
	lines, err := strconv.Atoi(c.DefaultQuery("lines", "100"))
	if err != nil || lines < 1 {
		lines = 100
	}
	name := rt.fleet.WorkloadName(id)
	logs, err := rt.backend.Logs(c.Request.Context(), name, lines)
	if err != nil {
		if errors.Is(err, dockerd.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.Response{Detail: "trial " + c.Param("id") + " not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to read logs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: gin.H{"trial_id": id, "logs": logs}})
}

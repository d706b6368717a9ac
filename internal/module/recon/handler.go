package recon

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/response"
)

// HandlerStartReconstruction launches the reconstruction pipeline for one
// trial. A run already in progress for the same trial is killed and replaced.
//
// @Summary 启动重建
// @Description 对指定试验的采样数据运行重建流水线; 同一试验的进行中重建会被终止并重启.
// @Tags 重建
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/reconstruct/{id} [post]
func (rt *Router) HandlerStartReconstruction(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid trial id"})
		return
	}
	if _, err := os.Stat(rt.fleet.DataDir(id)); err != nil {
		c.JSON(http.StatusNotFound, response.Response{Detail: "no sample data found for trial " + c.Param("id")})
		return
	}

	if err := rt.runner.Start(id); err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to start reconstruction: " + err.Error()})
		return
	}
	rt.hub.Broadcast(gin.H{"event": "reconstruction_started", "trial_id": id})
	c.JSON(http.StatusOK, response.Response{Results: gin.H{"trial_id": id, "status": "running"}})
}

// HandlerReconStatus reports the reconstruction state for one trial.
//
// @Summary 查询重建状态
// @Description 返回重建进程状态; 失败时附带日志中的错误行.
// @Tags 重建
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response{results=Status}
// @Router /api/v1/reconstruct/{id}/status [get]
func (rt *Router) HandlerReconStatus(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid trial id"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: rt.runner.Status(id)})
}

// HandlerReconResults lists reconstruction quality metrics for one trial,
// sorted by field, method and kernel.
//
// @Summary 查询重建结果
// @Tags 重建
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/reconstruct/{id}/results [get]
func (rt *Router) HandlerReconResults(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid trial id"})
		return
	}
	entries, err := rt.runner.Results(id)
	if err != nil {
		c.JSON(http.StatusNotFound, response.Response{Detail: "no reconstruction results for trial " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: gin.H{"trial_id": id, "results": entries}})
}

// HandlerReconImages lists the rendered reconstruction plots for one trial.
//
// @Summary 列出重建图像
// @Tags 重建
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response
// @Router /api/v1/reconstruct/{id}/images [get]
func (rt *Router) HandlerReconImages(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid trial id"})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: gin.H{"trial_id": id, "images": rt.runner.Images(id)}})
}

// HandlerReconImage serves one rendered plot from the trial's results tree.
//
// @Summary 获取重建图像
// @Tags 重建
// @Produce png
// @Param id path int true "试验编号"
// @Param path path string true "结果树内的相对路径"
// @Success 200 {file} binary
// @Failure 404 {object} response.Response
// @Router /api/v1/reconstruct/{id}/image/{path} [get]
func (rt *Router) HandlerReconImage(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid trial id"})
		return
	}
	rel := strings.TrimPrefix(c.Param("path"), "/")
	full, err := rt.runner.ImagePath(id, rel)
	if err != nil {
		c.JSON(http.StatusNotFound, response.Response{Detail: "image not found"})
		return
	}
	c.File(full)
}

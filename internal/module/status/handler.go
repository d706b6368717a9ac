package status

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"aqmap-bk/internal/pkg/response"
)

// statusDocument assembles the combined fleet + host view the dashboard polls
// and the websocket pusher broadcasts.
func (rt *Router) statusDocument(ctx context.Context) (gin.H, error) {
	snaps, err := rt.fleet.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"containers": snaps,
		"system":     rt.sampler.Sample(ctx),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// HandlerHealth is the unauthenticated liveness probe.
//
// @Summary 健康检查
// @Tags 状态
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/health [get]
func (rt *Router) HandlerHealth(c *gin.Context) {
	c.JSON(http.StatusOK, response.Response{Results: gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// HandlerLogin checks the dashboard credentials and issues an access token.
//
// @Summary 登录
// @Description 校验用户名密码并签发访问令牌.
// @Tags 状态
// @Accept json
// @Produce json
// @Param body body LoginRequest true "登录凭据"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/login [post]
func (rt *Router) HandlerLogin(c *gin.Context) {
	var in LoginRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid request body: " + err.Error()})
		return
	}
	if in.Username != rt.username ||
		bcrypt.CompareHashAndPassword([]byte(rt.passwordHash), []byte(in.Password)) != nil {
		c.JSON(http.StatusUnauthorized, response.Response{Detail: "invalid username or password"})
		return
	}
	tok, err := rt.tokens.Generate(in.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to issue token: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: gin.H{
		"access_token": tok,
		"token_type":   "bearer",
	}})
}

// HandlerStatus returns the combined fleet and host status document.
//
// @Summary 获取系统总览
// @Description 返回所有仿真容器的状态与主机资源信息.
// @Tags 状态
// @Produce json
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/status [get]
func (rt *Router) HandlerStatus(c *gin.Context) {
	doc, err := rt.statusDocument(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to query fleet state: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: doc})
}

// HandlerContainers returns the fleet snapshots only.
//
// @Summary 获取容器列表
// @Tags 状态
// @Produce json
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/containers [get]
func (rt *Router) HandlerContainers(c *gin.Context) {
	snaps, err := rt.fleet.ListSnapshots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to query fleet state: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.Response{Results: gin.H{"containers": snaps}})
}

// HandlerSystem returns host resource usage only. Sampling is best-effort and
// never fails the request.
//
// @Summary 获取主机资源
// @Tags 状态
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/system [get]
func (rt *Router) HandlerSystem(c *gin.Context) {
	c.JSON(http.StatusOK, response.Response{Results: rt.sampler.Sample(c.Request.Context())})
}

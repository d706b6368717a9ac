package status

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/broadcast"
	"aqmap-bk/internal/pkg/fleet"
	"aqmap-bk/internal/pkg/sysinfo"
	"aqmap-bk/internal/pkg/token"
)

type Router struct {
	fleet        *fleet.Aggregator
	sampler      *sysinfo.Sampler
	hub          *broadcast.Hub
	tokens       *token.Manager
	auth         gin.HandlerFunc
	username     string
	passwordHash string
	pushInterval time.Duration
	logger       *slog.Logger
}

func NewRouter(fleet *fleet.Aggregator, sampler *sysinfo.Sampler, hub *broadcast.Hub,
	tokens *token.Manager, auth gin.HandlerFunc, username, passwordHash string,
	pushInterval time.Duration, logger *slog.Logger) *Router {
	if pushInterval <= 0 {
		pushInterval = 2 * time.Second
	}
	return &Router{
		fleet:        fleet,
		sampler:      sampler,
		hub:          hub,
		tokens:       tokens,
		auth:         auth,
		username:     username,
		passwordHash: passwordHash,
		pushInterval: pushInterval,
		logger:       logger,
	}
}

func (rt *Router) Register(r *gin.Engine) {
	r.GET("/api/v1/health", rt.HandlerHealth)     // GET  /api/v1/health
	r.POST("/api/v1/auth/login", rt.HandlerLogin) // POST /api/v1/auth/login

	v1 := r.Group("/api/v1", rt.auth)
	{
		v1.GET("/status", rt.HandlerStatus)         // GET /api/v1/status
		v1.GET("/containers", rt.HandlerContainers) // GET /api/v1/containers
		v1.GET("/system", rt.HandlerSystem)         // GET /api/v1/system
		v1.GET("/ws", rt.HandlerWebSocket)          // GET /api/v1/ws
	}
}

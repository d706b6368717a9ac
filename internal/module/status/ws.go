package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard is served from a different origin than the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsObserver adapts one websocket connection to the broadcast hub. WriteJSON
// is not safe for concurrent use, so sends from the pusher and from event
// broadcasts serialize on the mutex.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsObserver) Send(v interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteJSON(v)
}

// HandlerWebSocket upgrades the connection and keeps it subscribed to hub
// broadcasts until the peer goes away. A failed send does not unregister the
// observer; only the read loop detecting the close does.
//
// @Summary 状态推送
// @Description 升级为 WebSocket 连接, 持续推送系统状态与批次事件.
// @Tags 状态
// @Router /api/v1/ws [get]
func (rt *Router) HandlerWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rt.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	o := &wsObserver{conn: conn}
	rt.hub.Register(o)
	defer rt.hub.Unregister(o)
	rt.logger.Info("websocket client connected", "remote", conn.RemoteAddr().String(), "clients", rt.hub.Count())

	// greet with a snapshot so the dashboard renders without waiting a tick
	if doc, docErr := rt.statusDocument(c.Request.Context()); docErr == nil {
		_ = o.Send(doc)
	}

	// read loop: the client never sends application data; this only surfaces
	// the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			rt.logger.Info("websocket client disconnected", "remote", conn.RemoteAddr().String())
			return
		}
	}
}

// RunPusher periodically broadcasts the status document to all connected
// websocket clients. Blocks until ctx is done.
func (rt *Router) RunPusher(ctx context.Context) {
	ticker := time.NewTicker(rt.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if rt.hub.Count() == 0 {
			continue
		}
		doc, err := rt.statusDocument(ctx)
		if err != nil {
			rt.logger.Warn("status push skipped", "err", err)
			continue
		}
		rt.hub.Broadcast(doc)
	}
}

// ws.go — WebSocket 推送网关: 总线消息 fan-out 到浏览器。
package apiserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chat-relay/go-chat-v2/pkg/logger"
	"github.com/chat-relay/go-chat-v2/pkg/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 本地单用户服务, 不做跨源限制
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsHandler 把一个 WS 连接接到总线上。
// filter 查询参数是 topic 前缀 (缺省 "*"), 如 "session.s1"。
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("apiserver: ws upgrade failed",
			logger.FieldError, err,
			logger.FieldRemote, c.Request.RemoteAddr,
		)
		return
	}

	filter := c.DefaultQuery("filter", "*")
	subID := "ws-" + uuid.NewString()
	sub := s.bus.Subscribe(subID, filter)

	logger.Info("apiserver: ws subscriber connected",
		logger.FieldSubscriber, subID,
		logger.FieldFilter, filter,
		logger.FieldRemote, c.Request.RemoteAddr,
	)

	writeTimeout := time.Duration(s.cfg.WSWriteTimeout) * time.Second
	pingInterval := time.Duration(s.cfg.WSPingInterval) * time.Second

	done := make(chan struct{})

	// 读侧只用来发现断开 (浏览器不上行业务数据)
	util.SafeGo(func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	util.SafeGo(func() {
		defer func() {
			s.bus.Unsubscribe(subID)
			_ = conn.Close()
			logger.Info("apiserver: ws subscriber disconnected",
				logger.FieldSubscriber, subID,
			)
		}()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.Ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}

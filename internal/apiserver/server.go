// Package apiserver 提供浏览器端使用的 HTTP/WS 接口。
//
// REST 面向命令与快照, WS 面向流式进度推送 (总线 fan-out)。
package apiserver

import (
	"github.com/gin-gonic/gin"

	"github.com/chat-relay/go-chat-v2/internal/bus"
	"github.com/chat-relay/go-chat-v2/internal/config"
	"github.com/chat-relay/go-chat-v2/internal/conversation"
	"github.com/chat-relay/go-chat-v2/internal/review"
	"github.com/chat-relay/go-chat-v2/internal/turn"
)

// Server HTTP/WS 服务。
type Server struct {
	router  *gin.Engine
	cfg     *config.Config
	store   *conversation.Store
	reviews *review.Manager
	ctrl    *turn.Controller
	bus     *bus.MessageBus
}

// NewServer 组装路由。
func NewServer(cfg *config.Config, store *conversation.Store, reviews *review.Manager, ctrl *turn.Controller, mb *bus.MessageBus) *Server {
	if cfg.Env != "development" && cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		router:  gin.Default(),
		cfg:     cfg,
		store:   store,
		reviews: reviews,
		ctrl:    ctrl,
		bus:     mb,
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试与 main 共用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// registerRoutes 注册全部路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)

	api := s.router.Group("/api")

	api.POST("/sessions/:id/messages", s.sendMessage)
	api.POST("/sessions/:id/abort", s.abortTurn)
	api.POST("/sessions/:id/activate", s.activateSession)
	api.PUT("/sessions/:id/target", s.setTarget)
	api.GET("/sessions/:id", s.sessionSnapshot)
	api.GET("/sessions/:id/draft", s.sessionDraft)

	api.GET("/reviews", s.listReviews)
	api.POST("/reviews/:id/decision", s.resolveReview)

	s.router.GET("/ws", s.wsHandler)
}

// Run 启动监听。
func (s *Server) Run() error {
	return s.router.Run(s.cfg.ListenAddr)
}

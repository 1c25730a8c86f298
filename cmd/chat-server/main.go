// cmd/chat-server — 聊天流重建服务主入口。
package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/chat-relay/go-chat-v2/internal/apiserver"
	"github.com/chat-relay/go-chat-v2/internal/bus"
	"github.com/chat-relay/go-chat-v2/internal/config"
	"github.com/chat-relay/go-chat-v2/internal/conversation"
	"github.com/chat-relay/go-chat-v2/internal/review"
	"github.com/chat-relay/go-chat-v2/internal/transport"
	"github.com/chat-relay/go-chat-v2/internal/turn"
	"github.com/chat-relay/go-chat-v2/pkg/logger"
	"github.com/chat-relay/go-chat-v2/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Fatal("log file init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.Init(cfg.Env)
	}

	store := conversation.NewStore()
	reviews := review.NewManager()
	mb := bus.NewMessageBus()
	ctrl := turn.NewController(cfg, store, reviews, transport.NewHTTPTransport(cfg), mb)
	srv := apiserver.NewServer(cfg, store, reviews, ctrl, mb)

	logger.Info("chat-server starting",
		logger.FieldAddr, cfg.ListenAddr,
		logger.FieldURL, cfg.BackendURL,
	)
	mb.Publish(bus.Message{Topic: bus.TopicSystem, Type: bus.MsgSystemReady, Payload: json.RawMessage(`{}`)})

	util.SafeGo(func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	mb.Publish(bus.Message{Topic: bus.TopicSystem, Type: bus.MsgSystemShutdown, Payload: json.RawMessage(`{}`)})
	logger.Info("shutting down")
}

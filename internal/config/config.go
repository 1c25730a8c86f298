// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/chat-relay/go-chat-v2/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 运行环境
	Env    string `env:"CHAT_ENV" default:"production"`
	LogDir string `env:"CHAT_LOG_DIR"`

	// Chat backend (上游事件流)
	BackendURL       string `env:"CHAT_BACKEND_URL" default:"http://127.0.0.1:8900"`
	BackendTimeout   int    `env:"CHAT_BACKEND_TIMEOUT_SEC" default:"300" min:"1"`
	ReasoningEnabled bool   `env:"CHAT_REASONING_ENABLED" default:"true"`

	// 附件内联上限 (超过则只携带元数据)
	AttachmentInlineLimit int `env:"CHAT_ATTACHMENT_INLINE_LIMIT" default:"262144" min:"1024"`

	// API server
	ListenAddr     string `env:"CHAT_LISTEN_ADDR" default:":8910"`
	WSWriteTimeout int    `env:"CHAT_WS_WRITE_TIMEOUT_SEC" default:"10" min:"1"`
	WSPingInterval int    `env:"CHAT_WS_PING_INTERVAL_SEC" default:"30" min:"1"`

	// Task review
	ReviewDefaultTimeoutMS int `env:"CHAT_REVIEW_TIMEOUT_MS" default:"0" min:"0"`
}

// Load 从环境变量加载配置。
func Load() *Config {
	cfg := &Config{}
	util.LoadFromEnv(cfg)
	return cfg
}

// Package transport 负责向 chat backend 发起 turn 并取回事件字节流。
//
// 核心只消费 io.ReadCloser; 取消通过 ctx 传递, backend 在连接断开时
// 自行终止生成。
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chat-relay/go-chat-v2/internal/config"
	"github.com/chat-relay/go-chat-v2/internal/conversation"
	apperrors "github.com/chat-relay/go-chat-v2/pkg/errors"
	"github.com/chat-relay/go-chat-v2/pkg/logger"
	"github.com/chat-relay/go-chat-v2/pkg/util"
)

// Attachment 随消息上送的附件描述。
//
// InlineData 为 base64 或原始文本; 超过内联上限的附件只送元数据,
// 由 backend 按 Path 自取。
type Attachment struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
	InlineData string `json:"inlineData,omitempty"`
	Path       string `json:"path,omitempty"`
	// MetadataOnly 内联数据因超限被剥离。
	MetadataOnly bool `json:"metadataOnly,omitempty"`
}

// TurnRequest turn 启动请求。Model 与 Agent 恰好一个非空。
type TurnRequest struct {
	SessionID        string                    `json:"session_id"`
	TurnID           string                    `json:"turn_id"`
	Content          string                    `json:"content"`
	Attachments      []Attachment              `json:"attachments,omitempty"`
	ReasoningEnabled bool                      `json:"reasoning_enabled"`
	Model            *conversation.ModelConfig `json:"model,omitempty"`
	AgentID          string                    `json:"agent_id,omitempty"`
}

// ReduceAttachments 按内联上限收缩附件: 可内联类型且不超限的保留数据,
// 其余剥离为元数据。原切片不被修改。
func ReduceAttachments(atts []Attachment, inlineLimit int) []Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]Attachment, len(atts))
	copy(out, atts)
	for i := range out {
		if out[i].InlineData == "" {
			continue
		}
		if !inlineableMime(out[i].MimeType) || out[i].SizeBytes > int64(inlineLimit) {
			out[i].InlineData = ""
			out[i].MetadataOnly = true
		}
	}
	return out
}

// inlineableMime 图片/文本/常见文档可内联。
func inlineableMime(mime string) bool {
	switch {
	case len(mime) >= 6 && mime[:6] == "image/":
		return true
	case len(mime) >= 5 && mime[:5] == "text/":
		return true
	case mime == "application/json",
		mime == "application/pdf",
		mime == "application/xml":
		return true
	}
	return false
}

// Transport 打开一个 turn 的事件流。
type Transport interface {
	OpenTurn(ctx context.Context, req TurnRequest) (io.ReadCloser, error)
}

// HTTPTransport 经 HTTP POST 开流的默认实现。
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport 按配置创建。
func NewHTTPTransport(cfg *config.Config) *HTTPTransport {
	return &HTTPTransport{
		baseURL: cfg.BackendURL,
		client: &http.Client{
			// 整个流的读取都走这个超时, 必须覆盖最长的 turn
			Timeout: time.Duration(cfg.BackendTimeout) * time.Second,
		},
	}
}

// OpenTurn 发起 turn, 返回事件字节流。
// 非 200 响应读取有界错误体后关闭并报错, 不返回流。
func (t *HTTPTransport) OpenTurn(ctx context.Context, req TurnRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "HTTPTransport.OpenTurn", "marshal turn request")
	}

	url := fmt.Sprintf("%s/api/sessions/%s/stream", t.baseURL, req.SessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, "HTTPTransport.OpenTurn", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, "HTTPTransport.OpenTurn", "open stream")
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, apperrors.Newf("HTTPTransport.OpenTurn", "backend status %d: %s",
			resp.StatusCode, util.TruncateBytes(detail, 200))
	}
	if resp.Body == nil {
		return nil, apperrors.Wrap(apperrors.ErrNoStream, "HTTPTransport.OpenTurn", "empty response body")
	}

	logger.Info("transport: turn stream opened",
		logger.FieldSessionID, req.SessionID,
		logger.FieldTurnID, req.TurnID,
		logger.FieldURL, url,
	)
	return resp.Body, nil
}

// Package turn 驱动一次对话 turn 的完整生命周期。
//
// 状态机: idle → connecting → streaming → finalizing-{success|error|cancelled}。
// 每会话同时至多一个 turn; 重复发送是静默空操作。读循环是草稿的唯一
// 写者, 事件严格按帧序应用, 每次变更后草稿快照落盘、进度上总线。
package turn

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chat-relay/go-chat-v2/internal/bus"
	"github.com/chat-relay/go-chat-v2/internal/config"
	"github.com/chat-relay/go-chat-v2/internal/conversation"
	"github.com/chat-relay/go-chat-v2/internal/review"
	"github.com/chat-relay/go-chat-v2/internal/sse"
	"github.com/chat-relay/go-chat-v2/internal/transport"
	apperrors "github.com/chat-relay/go-chat-v2/pkg/errors"
	"github.com/chat-relay/go-chat-v2/pkg/logger"
	"github.com/chat-relay/go-chat-v2/pkg/util"
)

const readBufSize = 4096

// Controller turn 编排器。
type Controller struct {
	cfg       *config.Config
	store     *conversation.Store
	reviews   *review.Manager
	transport transport.Transport
	bus       *bus.MessageBus

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // sessionID → 进行中 turn 的中止
}

// NewController 组装控制器。
func NewController(cfg *config.Config, store *conversation.Store, reviews *review.Manager, tr transport.Transport, mb *bus.MessageBus) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		reviews:   reviews,
		transport: tr,
		bus:       mb,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SendInput 一次发送请求。
type SendInput struct {
	SessionID   string
	Content     string
	Attachments []transport.Attachment
}

// Send 启动一个 turn。
//
// 流程: 并发保护 → 目标解析 → 开流 → 插入占位消息对 → 后台读循环。
// 会话已有进行中 turn 时静默返回 nil (不排队)。setup 阶段的失败
// (无目标 / 开流失败) 直接返回错误并写入会话错误字段, 此时尚无
// 占位消息, 无需回滚。
func (c *Controller) Send(ctx context.Context, in SendInput) error {
	if strings.TrimSpace(in.Content) == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Controller.Send", "empty message content")
	}

	var (
		inFlight bool
		model    *conversation.ModelConfig
		agentID  string
		noTarget bool
	)
	c.store.Update(in.SessionID, func(tx *conversation.Tx) {
		sess := tx.Session
		if sess.IsLoading || sess.IsStreaming {
			inFlight = true
			return
		}
		var enabled int
		if sess.Model != nil && sess.Model.Enabled {
			m := *sess.Model
			model = &m
			enabled++
		}
		if sess.Agent != nil && sess.Agent.Enabled {
			agentID = sess.Agent.ID
			enabled++
		}
		if enabled != 1 {
			noTarget = true
			sess.Error = apperrors.ErrNoTarget.Error()
			return
		}
		// 从 guard 到开流之间不允许第二个 Send 穿过
		sess.IsLoading = true
		sess.Error = ""
	})
	if inFlight {
		logger.Info("turn: send ignored, turn already in flight",
			logger.FieldSessionID, in.SessionID,
		)
		return nil
	}
	if noTarget {
		return apperrors.Wrap(apperrors.ErrNoTarget, "Controller.Send", "session "+in.SessionID)
	}

	st := turnState{
		sessionID:   in.SessionID,
		turnID:      uuid.NewString(),
		userID:      uuid.NewString(),
		assistantID: uuid.NewString(),
	}

	req := transport.TurnRequest{
		SessionID:        in.SessionID,
		TurnID:           st.turnID,
		Content:          in.Content,
		Attachments:      transport.ReduceAttachments(in.Attachments, c.cfg.AttachmentInlineLimit),
		ReasoningEnabled: c.cfg.ReasoningEnabled,
		Model:            model,
		AgentID:          agentID,
	}

	// 流的生命周期长于发起它的 HTTP 请求, 挂到独立 ctx 上。
	turnCtx, cancel := context.WithCancel(context.Background())
	rc, err := c.transport.OpenTurn(turnCtx, req)
	if err != nil {
		cancel()
		c.store.Update(in.SessionID, func(tx *conversation.Tx) {
			tx.Session.IsLoading = false
			tx.Session.Error = err.Error()
		})
		return apperrors.Wrap(err, "Controller.Send", "open turn stream")
	}

	c.registerCancel(in.SessionID, cancel)

	c.store.Update(in.SessionID, func(tx *conversation.Tx) {
		userMsg := conversation.NewMessage(st.userID, in.SessionID, conversation.RoleUser, in.Content)
		userMsg.Status = conversation.StatusCompleted
		userMsg.Meta.TurnID = st.turnID
		tx.AppendMessage(userMsg)

		draft := conversation.NewMessage(st.assistantID, in.SessionID, conversation.RoleAssistant, "")
		draft.Status = conversation.StatusStreaming
		draft.Meta.TurnID = st.turnID
		tx.AppendMessage(draft)

		tx.Session.IsStreaming = true
		tx.PersistDraft(draft)
	})
	c.publish(st, bus.SessionStreamTopic(st.sessionID), bus.MsgTurnStarted, map[string]any{
		"turn_id":              st.turnID,
		"user_message_id":      st.userID,
		"assistant_message_id": st.assistantID,
	})

	util.SafeGo(func() { c.runLoop(st, rc) })
	return nil
}

// Abort 外部中止会话进行中的 turn (若有)。
func (c *Controller) Abort(sessionID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[sessionID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (c *Controller) registerCancel(sessionID string, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[sessionID] = cancel
	c.mu.Unlock()
}

func (c *Controller) dropCancel(sessionID string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[sessionID]; ok {
		cancel()
		delete(c.cancels, sessionID)
	}
	c.mu.Unlock()
}

// runLoop 读流、切帧、解码、逐事件应用, 直至流结束或出错。
// 无论以何种路径退出, reader 都被关闭、cancel 被释放。
func (c *Controller) runLoop(st turnState, rc io.ReadCloser) {
	defer rc.Close()
	defer c.dropCancel(st.sessionID)

	extractor := sse.NewExtractor()
	buf := make([]byte, readBufSize)

	for {
		n, readErr := rc.Read(buf)
		var frames []string
		if n > 0 {
			frames = extractor.Feed(string(buf[:n]))
		}
		if readErr != nil {
			frames = append(frames, extractor.Flush()...)
		}

		events, end := sse.DecodeFrames(frames)
		for _, ev := range events {
			res, applyErr := c.applyOne(st, ev)
			if applyErr != nil {
				c.fail(st, applyErr)
				return
			}
			switch res.outcome {
			case outcomeSuccess:
				c.finalize(st, true, bus.MsgTurnCompleted)
				return
			case outcomeCancelled:
				c.finalize(st, true, bus.MsgTurnCancelled)
				return
			}
		}
		if end {
			// [DONE] 哨兵: 显式成功
			c.finalize(st, true, bus.MsgTurnCompleted)
			return
		}
		if readErr != nil {
			if readErr == io.EOF {
				// 传输层自然关闭, 不算显式成功: 不改消息状态, 只收尾
				c.finalize(st, false, bus.MsgTurnCompleted)
				return
			}
			c.fail(st, apperrors.Wrap(readErr, "Controller.runLoop", "read stream"))
			return
		}
	}
}

// applyOne 在一次 store 事务里应用单个事件, 变更后立即存草稿快照。
func (c *Controller) applyOne(st turnState, ev sse.Event) (dispatchResult, error) {
	var res dispatchResult
	var lost bool
	c.store.Update(st.sessionID, func(tx *conversation.Tx) {
		msg := tx.EnsureMessage(st.assistantID)
		if msg == nil {
			lost = true
			return
		}
		res = applyEvent(tx, msg, st, ev)
		if res.changed {
			msg.Touch()
			tx.PersistDraft(msg)
		}
	})
	if lost {
		return dispatchResult{}, apperrors.Wrap(apperrors.ErrNotFound, "Controller.applyOne",
			"streaming message lost and no draft to restore from")
	}

	if res.panel != nil {
		if res.panel.TimeoutMS == 0 {
			res.panel.TimeoutMS = c.cfg.ReviewDefaultTimeoutMS
		}
		active := c.store.ActiveSessionID() == res.panel.SessionID
		c.reviews.Upsert(res.panel, active)
		c.publish(st, bus.SessionReviewTopic(res.panel.SessionID), bus.MsgReviewRequested, map[string]any{
			"review_id": res.panel.ReviewID,
			"tasks":     len(res.panel.Tasks),
		})
	}
	if res.changed {
		c.publish(st, bus.SessionStreamTopic(st.sessionID), bus.MsgMessageUpdated, map[string]any{
			"message_id": st.assistantID,
			"event_type": ev.Type,
		})
	}
	return res, nil
}

// finalize 正常收尾: 定稿草稿、清标志、清快照。
// explicitSuccess 为真时 (done/complete/cancelled/[DONE]) 消息置 completed;
// 传输层裸 EOF 不改状态。
func (c *Controller) finalize(st turnState, explicitSuccess bool, msgType string) {
	c.store.Update(st.sessionID, func(tx *conversation.Tx) {
		if msg := tx.EnsureMessage(st.assistantID); msg != nil && explicitSuccess {
			msg.Status = conversation.StatusCompleted
			msg.Touch()
		}
		tx.Session.IsLoading = false
		tx.Session.IsStreaming = false
		tx.ClearDraft()
	})
	logger.Info("turn: finalized",
		logger.FieldSessionID, st.sessionID,
		logger.FieldTurnID, st.turnID,
		logger.FieldStatus, msgType,
	)
	c.publish(st, bus.SessionStreamTopic(st.sessionID), msgType, map[string]any{
		"assistant_message_id": st.assistantID,
	})
}

// fail 错误收尾: 整对占位消息回滚, 错误写入会话, 快照清除。
// 回滚后列表消息数恢复到 turn 开始前。
func (c *Controller) fail(st turnState, err error) {
	c.store.Update(st.sessionID, func(tx *conversation.Tx) {
		tx.Session.RemoveMessage(st.assistantID)
		tx.Session.RemoveMessage(st.userID)
		tx.Session.Error = err.Error()
		tx.Session.IsLoading = false
		tx.Session.IsStreaming = false
		tx.ClearDraft()
	})
	logger.Error("turn: failed, placeholders rolled back",
		logger.FieldSessionID, st.sessionID,
		logger.FieldTurnID, st.turnID,
		logger.FieldError, err,
	)
	c.publish(st, bus.SessionStreamTopic(st.sessionID), bus.MsgTurnFailed, map[string]any{
		"error": err.Error(),
	})
}

// publish 序列化载荷并发布到总线。
func (c *Controller) publish(st turnState, topic, msgType string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	c.bus.Publish(bus.Message{
		Topic:     topic,
		SessionID: st.sessionID,
		Type:      msgType,
		Payload:   raw,
	})
}

// Package bus 提供进程内消息总线。
//
// turn 控制器把重建进度发布到总线, WS 网关和其他订阅者按 topic
// 前缀各取所需:
//   - session.{id}.stream  — 流式重建进度 (增量文本/工具状态/终态)
//   - session.{id}.review  — 审核面板变化
//   - system               — 服务级事件 (启动/关闭/健康)
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"` // session.s1.stream / session.s1.review / system
	SessionID string          `json:"sessionId,omitempty"`
	Type      string          `json:"type"`    // 消息类型 (turn_started / message_updated / ...)
	Payload   json.RawMessage `json:"payload"` // 具体数据
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型常量。
const (
	// --- turn 生命周期 ---

	// MsgTurnStarted turn 开始, 占位消息已插入。
	MsgTurnStarted = "turn_started"
	// MsgTurnCompleted turn 成功终结。
	MsgTurnCompleted = "turn_completed"
	// MsgTurnCancelled turn 被取消。
	MsgTurnCancelled = "turn_cancelled"
	// MsgTurnFailed turn 出错回滚。
	MsgTurnFailed = "turn_failed"

	// --- 流式进度 ---

	// MsgMessageUpdated 草稿消息发生变化 (文本/分段/工具状态)。
	MsgMessageUpdated = "message_updated"

	// --- 审核流 ---

	// MsgReviewRequested 新审核面板到达。
	MsgReviewRequested = "review_requested"
	// MsgReviewResolved 审核面板被决策关闭。
	MsgReviewResolved = "review_resolved"

	// --- 系统 ---

	// MsgSystemReady 服务就绪。
	MsgSystemReady = "system_ready"
	// MsgSystemShutdown 服务关闭中。
	MsgSystemShutdown = "system_shutdown"
)

// Topic 模式常量。
const (
	// TopicSessionPrefix 会话消息前缀: session.{id}.{subtopic}。
	TopicSessionPrefix = "session."
	// TopicSystem 系统消息。
	TopicSystem = "system"
	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// SessionStreamTopic 会话流式进度 topic。
func SessionStreamTopic(sessionID string) string {
	return TopicSessionPrefix + sessionID + ".stream"
}

// SessionReviewTopic 会话审核 topic。
func SessionReviewTopic(sessionID string) string {
	return TopicSessionPrefix + sessionID + ".review"
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("session.s1" / "*" / "system")
	Ch     chan Message // 消息通道
}

// ========================================
// MessageBus — topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
// 支持 topic 前缀匹配和广播:
//   - 订阅 "session.s1" → 收到 session.s1.stream, session.s1.review
//   - 订阅 "*" → 收到所有消息
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	seq         int64
	onPublish   func(Message) // 可选: 每条消息的全局回调 (桥接日志等)
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// SetOnPublish 设置全局发布回调。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息到匹配的订阅者。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证消息到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish

	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃 (避免阻塞发布者)
			}
		}
	}
	b.mu.Unlock()

	// 全局回调在锁外执行 (回调可能耗时, 避免持锁太久)
	if onPub != nil {
		onPub(msg)
	}
}

// Subscribe 订阅消息。filter 为 topic 前缀 ("session.s1" / "*" / "system")。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, 64),
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
// 规则:
//   - filter "*" 匹配所有 topic
//   - filter "session.s1" 匹配 "session.s1", "session.s1.stream"
//   - filter "system" 匹配 "system", "system.health"
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	return false
}

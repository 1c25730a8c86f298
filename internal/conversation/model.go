// Package conversation 维护流式重建中的会话消息状态。
//
// 核心对象:
//   - Message + ContentSegment: 一条消息及其有序内容分段
//   - ToolCallState: 单次工具调用的生命周期记录
//   - TurnProcessSummary: 挂在用户消息上的过程计数器
//   - Store: 按会话组织的可变状态容器 (含流式草稿快照)
package conversation

import (
	"time"
)

// Role 消息角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Status 消息生命周期状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// SegmentType 内容分段类型。
type SegmentType string

const (
	SegmentText     SegmentType = "text"
	SegmentThinking SegmentType = "thinking"
	SegmentToolCall SegmentType = "tool_call"
)

// ContentSegment 一段同类内容。
//
// 不变量: turn 进行中分段只追加; 只有最新打开的同类分段可被原地续写。
// 消息展示文本 = 所有 text 分段按序拼接 (thinking/tool_call 仅用于过程披露)。
type ContentSegment struct {
	Type       SegmentType `json:"type"`
	Content    string      `json:"content,omitempty"`
	ToolCallID string      `json:"toolCallId,omitempty"`
}

// ToolCallState 单次工具调用状态。
//
// 不变量: Completed 置位后不再接受流式内容; Error 与 FinalResult 互斥。
type ToolCallState struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments,omitempty"`
	Result    string    `json:"result,omitempty"`      // 最近一次可展示输出
	FinalResult string  `json:"finalResult,omitempty"` // 完成事件给出的权威输出
	StreamLog string    `json:"streamLog,omitempty"`   // 全部增量块的累积 (不被覆盖)
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TurnProcessSummary 过程计数器 (挂在 turn 的用户消息上)。
// HasProcess 派生: 任一计数非零即为 true。
type TurnProcessSummary struct {
	ToolCallCount       int    `json:"toolCallCount"`
	ThinkingCount       int    `json:"thinkingCount"`
	ProcessMessageCount int    `json:"processMessageCount"`
	HasProcess          bool   `json:"hasProcess"`
	Expanded            bool   `json:"expanded,omitempty"`
	UserMessageID       string `json:"userMessageId,omitempty"`
	AssistantMessageID  string `json:"assistantMessageId,omitempty"`
}

// MessageMeta 消息元数据袋。
type MessageMeta struct {
	TurnID             string              `json:"turnId,omitempty"`
	ContentSegments    []ContentSegment    `json:"contentSegments,omitempty"`
	ActiveSegmentIndex int                 `json:"activeSegmentIndex"`
	ToolCalls          []ToolCallState     `json:"toolCalls,omitempty"`
	HistoryProcess     *TurnProcessSummary `json:"historyProcess,omitempty"`
}

// Message 一条聊天消息。
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
	Meta      MessageMeta `json:"meta"`
}

// NewMessage 创建消息。ActiveSegmentIndex 初始为 -1 (尚无活动分段)。
func NewMessage(id, sessionID string, role Role, content string) *Message {
	return &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Meta:      MessageMeta{ActiveSegmentIndex: -1},
	}
}

// Touch 更新 UpdatedAt。
func (m *Message) Touch() {
	now := time.Now()
	m.UpdatedAt = &now
}

// Clone 深拷贝消息。快照存储依赖此方法切断与活动对象的别名关系,
// 之后对原消息的续写不得影响克隆。
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	if m.Meta.ContentSegments != nil {
		out.Meta.ContentSegments = make([]ContentSegment, len(m.Meta.ContentSegments))
		copy(out.Meta.ContentSegments, m.Meta.ContentSegments)
	}
	if m.Meta.ToolCalls != nil {
		out.Meta.ToolCalls = make([]ToolCallState, len(m.Meta.ToolCalls))
		copy(out.Meta.ToolCalls, m.Meta.ToolCalls)
	}
	if m.Meta.HistoryProcess != nil {
		p := *m.Meta.HistoryProcess
		out.Meta.HistoryProcess = &p
	}
	return &out
}

// ModelConfig 可选模型配置。
type ModelConfig struct {
	ID       string `json:"id"`
	Provider string `json:"provider,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// AgentConfig 可选 agent 配置。
type AgentConfig struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

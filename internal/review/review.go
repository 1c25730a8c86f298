// Package review 处理任务创建的人工确认流程。
//
// 后端在工具流输出里内嵌一条带判别字段的 JSON (带外事件), 本包负责
// 识别该标记、归一化任务草稿并维护按 review id 索引的面板状态;
// 决策经独立 API 通道回传。
package review

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chat-relay/go-chat-v2/internal/sse"
)

// MarkerType 工具流内嵌审核请求的判别值。
const MarkerType = "task_review_request"

// WaitingPlaceholder 审核期间工具调用的展示占位文案。
const WaitingPlaceholder = "waiting for task confirmation"

// Priority 任务优先级。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Status 任务状态。
type Status string

const (
	StatusTodo    Status = "todo"
	StatusDoing   Status = "doing"
	StatusBlocked Status = "blocked"
	StatusDone    Status = "done"
)

// TaskDraft 一条可编辑的任务草稿。
type TaskDraft struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Details  string   `json:"details"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`
	Tags     []string `json:"tags,omitempty"`
	DueTime  string   `json:"dueTime,omitempty"`
}

// PanelState 一个待决审核面板。按 review id 唯一。
type PanelState struct {
	ReviewID   string      `json:"reviewId"`
	SessionID  string      `json:"sessionId"`
	TurnID     string      `json:"turnId,omitempty"`
	ToolCallID string      `json:"toolCallId,omitempty"`
	Tasks      []TaskDraft `json:"tasks"`
	TimeoutMS  int         `json:"timeoutMs,omitempty"`
	Submitting bool        `json:"submitting"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// ExtractRequest 尝试把工具流块的 content 解析为审核请求。
//
// 不是合法 JSON、判别字段不匹配、或缺 review_id 的一律按普通
// 工具输出处理 (ok=false, 无副作用)。session/turn id 缺省时
// 回退到当前 turn 的值。
func ExtractRequest(content, fallbackSessionID, fallbackTurnID string) (*PanelState, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, false
	}
	if sse.StringField(payload, "type") != MarkerType {
		return nil, false
	}
	data := payload
	if d, ok := payload["data"].(map[string]any); ok {
		data = d
	}
	reviewID := sse.StringField(data, "review_id", "reviewId")
	if reviewID == "" {
		return nil, false
	}

	sessionID := sse.StringField(data, "session_id", "sessionId")
	if sessionID == "" {
		sessionID = fallbackSessionID
	}
	turnID := sse.StringField(data, "conversation_turn_id", "turnId")
	if turnID == "" {
		turnID = fallbackTurnID
	}

	panel := &PanelState{
		ReviewID:  reviewID,
		SessionID: sessionID,
		TurnID:    turnID,
		CreatedAt: time.Now(),
	}
	if timeout, ok := data["timeout_ms"].(float64); ok && timeout > 0 {
		panel.TimeoutMS = int(timeout)
	}
	if rawTasks, ok := data["draft_tasks"].([]any); ok {
		for _, raw := range rawTasks {
			if entry, ok := raw.(map[string]any); ok {
				panel.Tasks = append(panel.Tasks, NormalizeDraft(entry))
			}
		}
	}
	return panel, true
}

// NormalizeDraft 归一化一条任务草稿:
// 缺省优先级 medium、状态 todo, 标题/详情缺省为空串,
// 标签去重去空白, 无 id 时生成本地 id。
func NormalizeDraft(entry map[string]any) TaskDraft {
	d := TaskDraft{
		ID:       sse.StringField(entry, "id", "task_id"),
		Title:    sse.StringField(entry, "title", "name"),
		Details:  sse.StringField(entry, "details", "description"),
		Priority: normalizePriority(sse.StringField(entry, "priority")),
		Status:   normalizeStatus(sse.StringField(entry, "status")),
		DueTime:  sse.StringField(entry, "due_time", "dueTime"),
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if rawTags, ok := entry["tags"].([]any); ok {
		d.Tags = dedupTags(rawTags)
	}
	return d
}

func normalizePriority(s string) Priority {
	switch Priority(strings.ToLower(s)) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(strings.ToLower(s))
	}
	return PriorityMedium
}

func normalizeStatus(s string) Status {
	switch Status(strings.ToLower(s)) {
	case StatusTodo, StatusDoing, StatusBlocked, StatusDone:
		return Status(strings.ToLower(s))
	}
	return StatusTodo
}

func dedupTags(raw []any) []string {
	seen := make(map[string]struct{}, len(raw))
	var tags []string
	for _, item := range raw {
		tag, ok := item.(string)
		if !ok {
			continue
		}
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

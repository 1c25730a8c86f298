// Package sse 解析 chat backend 的事件流。
//
// 线协议: 空行分隔的文本帧, data: 前缀行携带载荷;
// 载荷为 [DONE] 哨兵或带 type 判别字段的 JSON 对象。
package sse

import (
	"strings"
)

// EndSentinel 流结束哨兵。
const EndSentinel = "[DONE]"

// 事件类型常量 (协议面)。
const (
	EventChunk   = "chunk"
	EventContent = "content"

	EventThinking = "thinking"

	EventSummarizeStart  = "context_summarized_start"
	EventSummarizeStream = "context_summarized_stream"
	EventSummarizeEnd    = "context_summarized_end"
	EventSummarized      = "context_summarized"

	EventToolsStart  = "tools_start"
	EventToolsStream = "tools_stream"
	EventToolsEnd    = "tools_end"

	EventError     = "error"
	EventCancelled = "cancelled"
	EventDone      = "done"
	EventComplete  = "complete"
)

// Event 一条已解码的流事件。
type Event struct {
	Type    string
	Payload map[string]any // 完整 JSON 对象
}

// Data 返回事件的 data 子对象; 不存在时返回顶层载荷本身
// (上游两种形态都有, 统一在此兼容)。
func (e Event) Data() map[string]any {
	if d, ok := e.Payload["data"].(map[string]any); ok {
		return d
	}
	return e.Payload
}

// ========================================
// 宽松字段提取 (上游协议无严格版本化, 字段名存在别名)
// ========================================

// StringField 按优先顺序取第一个非空字符串字段。
func StringField(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, key := range keys {
		if s := trimmedStringValue(m[key]); s != "" {
			return s
		}
	}
	return ""
}

// RawStringField 按优先顺序取第一个存在的字符串字段 (不 trim, 保留增量空白)。
func RawStringField(m map[string]any, keys ...string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, key := range keys {
		if s, ok := m[key].(string); ok {
			return s, true
		}
	}
	return "", false
}

// BoolField 按优先顺序取第一个可解释为布尔的字段。
// 兼容 bool 和 "true"/"1"/"yes" 形式的字符串。
func BoolField(m map[string]any, keys ...string) (bool, bool) {
	if m == nil {
		return false, false
	}
	for _, key := range keys {
		value, exists := m[key]
		if !exists {
			continue
		}
		switch typed := value.(type) {
		case bool:
			return typed, true
		case string:
			switch strings.ToLower(strings.TrimSpace(typed)) {
			case "true", "1", "yes", "y":
				return true, true
			case "false", "0", "no", "n":
				return false, true
			}
		}
	}
	return false, false
}

// ToolCallID 解析工具调用关联 id。
//
// ⚠️ 别名优先级固定: tool_call_id → id → toolCallId。
// 上游不同代码路径三种字段名都在用, 勿"规范化"成单一字段。
func ToolCallID(m map[string]any) string {
	return StringField(m, "tool_call_id", "id", "toolCallId")
}

func trimmedStringValue(value any) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

// toolcalls.go — 工具调用生命周期追踪。
//
// 一次调用的三类输出互不覆盖:
//   - StreamLog: 全部增量块的累积, 仅追加
//   - Result:   当前可展示输出 (增量累积或整段替换)
//   - FinalResult: 完成事件的权威输出, 与 Error 互斥
package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/chat-relay/go-chat-v2/internal/sse"
	"github.com/chat-relay/go-chat-v2/pkg/logger"
)

// RegisterToolCalls 登记 tools_start 携带的调用列表。
//
// 上游字段存在别名: 名称取 function.name 或 name, 参数取 function.arguments
// 或 arguments (对象形式序列化为 JSON 文本)。缺 id 时生成本地 id 以保持
// 后续事件可关联。每个调用在消息中插入 tool_call 占位分段。
// 返回登记的 id 列表。
func RegisterToolCalls(m *Message, raw []any) []string {
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fn, _ := entry["function"].(map[string]any)

		name := sse.StringField(fn, "name")
		if name == "" {
			name = sse.StringField(entry, "name")
		}

		args, found := sse.RawStringField(fn, "arguments")
		if !found {
			args, found = sse.RawStringField(entry, "arguments")
		}
		if !found {
			for _, src := range []map[string]any{fn, entry} {
				if obj, ok := src["arguments"].(map[string]any); ok {
					if b, err := json.Marshal(obj); err == nil {
						args = string(b)
					}
					break
				}
			}
		}

		id := sse.ToolCallID(entry)
		if id == "" {
			id = uuid.NewString()
			logger.Debug("conversation: tool call without id, generated local id",
				logger.FieldToolCallID, id,
				logger.FieldToolName, name,
			)
		}

		m.Meta.ToolCalls = append(m.Meta.ToolCalls, ToolCallState{
			ID:        id,
			MessageID: m.ID,
			Name:      name,
			Arguments: args,
			CreatedAt: time.Now(),
		})
		OpenToolCallSegment(m, id)
		ids = append(ids, id)
	}
	return ids
}

// FindToolCall 按 id 查找消息上的调用记录。
// 返回的指针指向切片元素, 仅在下一次 RegisterToolCalls 前有效。
func FindToolCall(m *Message, id string) *ToolCallState {
	for i := range m.Meta.ToolCalls {
		if m.Meta.ToolCalls[i].ID == id {
			return &m.Meta.ToolCalls[i]
		}
	}
	return nil
}

// ApplyToolStream 应用 tools_stream 中间输出。
//
// 已完成的调用不再接受任何流式内容 (迟到块直接丢弃)。
// is_stream 指示增量语义: 为真时块追加进 Result 与 StreamLog;
// 否则视为整段权威替换 —— FinalResult 与 Result 都被覆盖并直接完成。
// 上游偶有对非增量块误标 is_stream 的情况, 此处按标志照单执行,
// 修正应发生在发送侧。
// 返回状态是否发生变化。
func ApplyToolStream(m *Message, id string, data map[string]any) bool {
	tc := FindToolCall(m, id)
	if tc == nil {
		logger.Warn("conversation: tools_stream for unknown tool call",
			logger.FieldToolCallID, id,
			logger.FieldMessageID, m.ID,
		)
		return false
	}
	if tc.Completed {
		return false
	}

	if failed, msg := failureSignal(data); failed {
		tc.Error = msg
		tc.FinalResult = ""
		tc.Completed = true
		return true
	}

	chunk, found := sse.RawStringField(data, "content", "chunk", "output")
	if !found || chunk == "" {
		return false
	}
	tc.StreamLog += chunk
	if isStream, ok := sse.BoolField(data, "is_stream"); ok && isStream {
		tc.Result += chunk
	} else {
		tc.Result = chunk
		tc.FinalResult = chunk
		tc.Completed = true
	}
	return true
}

// CancelOpenToolCalls 收到 cancelled 事件时收尾所有未完成调用:
// 一律置 Completed; 已有输出的调用不被覆盖, 空输出的标记取消错误。
// 返回收尾的调用数。
func CancelOpenToolCalls(m *Message) int {
	n := 0
	for i := range m.Meta.ToolCalls {
		tc := &m.Meta.ToolCalls[i]
		if tc.Completed {
			continue
		}
		tc.Completed = true
		if tc.Result == "" && tc.FinalResult == "" {
			tc.Error = "cancelled"
		}
		n++
	}
	return n
}

// ApplyToolEnd 应用 tools_end 终态。
//
// 错误路径: 记录 Error, 清空 FinalResult。
// 成功路径: 权威输出按 result → content → output 优先取第一个非空,
// 写入 FinalResult 并覆盖 Result; 全空时保留已有 Result。
// 任一路径都置 Completed, 成功路径同时清除此前的瞬时错误。
// 返回状态是否发生变化。
func ApplyToolEnd(m *Message, id string, data map[string]any) bool {
	tc := FindToolCall(m, id)
	if tc == nil {
		logger.Warn("conversation: tools_end for unknown tool call",
			logger.FieldToolCallID, id,
			logger.FieldMessageID, m.ID,
		)
		return false
	}

	if failed, msg := failureSignal(data); failed {
		tc.Error = msg
		tc.FinalResult = ""
		tc.Completed = true
		return true
	}

	final, _ := sse.RawStringField(data, "result", "content", "output")
	tc.FinalResult = final
	if final != "" {
		tc.Result = final
	}
	tc.Error = ""
	tc.Completed = true
	return true
}

// MarkToolCallWaiting 将调用置为等待人工决策: 展示输出替换为占位文案,
// 保持未完成状态 (决策经独立通道到达后再收尾)。
func MarkToolCallWaiting(m *Message, id, placeholder string) bool {
	tc := FindToolCall(m, id)
	if tc == nil {
		return false
	}
	tc.Result = placeholder
	tc.Completed = false
	tc.Error = ""
	return true
}

// failureSignal 判定载荷是否声明失败, 并提取错误文案。
func failureSignal(data map[string]any) (bool, string) {
	failed := false
	if isErr, ok := sse.BoolField(data, "is_error"); ok && isErr {
		failed = true
	}
	if success, ok := sse.BoolField(data, "success"); ok && !success {
		failed = true
	}
	if !failed {
		return false, ""
	}
	msg := sse.StringField(data, "error", "message", "content")
	if msg == "" {
		msg = "tool call failed"
	}
	return true, msg
}

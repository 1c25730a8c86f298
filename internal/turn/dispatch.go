// dispatch.go — 事件 → 草稿变更。
//
// 每个函数只改传入的草稿与会话状态, 不做 IO; 锁由调用方 (控制器)
// 通过 store 事务持有。
package turn

import (
	"github.com/chat-relay/go-chat-v2/internal/conversation"
	"github.com/chat-relay/go-chat-v2/internal/review"
	"github.com/chat-relay/go-chat-v2/internal/sse"
	apperrors "github.com/chat-relay/go-chat-v2/pkg/errors"
	"github.com/chat-relay/go-chat-v2/pkg/logger"
)

// summarizeHeader 上下文摘要段落的固定前缀。
const summarizeHeader = "Context summarized:\n"

// outcome 单个事件对 turn 走向的影响。
type outcome int

const (
	outcomeNone      outcome = iota
	outcomeSuccess           // done / complete: 显式成功信号
	outcomeCancelled         // cancelled: 无错终止
)

// turnState 一个 turn 的不变标识。
type turnState struct {
	sessionID   string
	turnID      string
	userID      string
	assistantID string
}

// dispatchResult 事件应用结果。
type dispatchResult struct {
	outcome outcome
	err     error              // error 事件: 终止 turn 并回滚
	panel   *review.PanelState // tools_stream 中提取出的审核请求
	changed bool               // 草稿是否发生变化 (决定是否存快照/推进度)
}

// applyEvent 把一条已解码事件应用到草稿上。
func applyEvent(tx *conversation.Tx, msg *conversation.Message, st turnState, ev sse.Event) dispatchResult {
	d := ev.Data()

	switch ev.Type {
	case sse.EventChunk, sse.EventContent:
		delta, _ := sse.RawStringField(d, "content", "chunk")
		if delta == "" {
			return dispatchResult{}
		}
		conversation.AppendText(msg, delta)
		return dispatchResult{changed: true}

	case sse.EventThinking:
		delta, _ := sse.RawStringField(d, "content", "chunk")
		if delta == "" {
			return dispatchResult{}
		}
		if conversation.AppendThinking(msg, delta) {
			bumpProcess(tx, st, func(p *conversation.TurnProcessSummary) { p.ThinkingCount++ })
		}
		return dispatchResult{changed: true}

	case sse.EventSummarizeStart:
		conversation.OpenThinkingSegment(msg, summarizeHeader+sse.StringField(d, "content"))
		bumpProcess(tx, st, func(p *conversation.TurnProcessSummary) { p.ProcessMessageCount++ })
		return dispatchResult{changed: true}

	case sse.EventSummarizeStream:
		delta, _ := sse.RawStringField(d, "chunk", "content")
		if delta == "" {
			return dispatchResult{}
		}
		conversation.AppendThinking(msg, delta)
		return dispatchResult{changed: true}

	case sse.EventSummarizeEnd:
		full := sse.StringField(d, "full_summary", "content")
		if full == "" {
			return dispatchResult{}
		}
		finalizeSummarySegment(msg, full)
		return dispatchResult{changed: true}

	case sse.EventSummarized:
		// 一次性摘要通知 (无 start/stream/end 包络)。
		preview := sse.StringField(d, "summary_preview", "full_summary", "content")
		conversation.OpenThinkingSegment(msg, summarizeHeader+preview)
		bumpProcess(tx, st, func(p *conversation.TurnProcessSummary) { p.ProcessMessageCount++ })
		return dispatchResult{changed: true}

	case sse.EventToolsStart:
		raw := toolCallList(d)
		ids := conversation.RegisterToolCalls(msg, raw)
		if len(ids) > 0 {
			bumpProcess(tx, st, func(p *conversation.TurnProcessSummary) { p.ToolCallCount += len(ids) })
		}
		return dispatchResult{changed: len(ids) > 0}

	case sse.EventToolsStream:
		id := sse.ToolCallID(d)
		if id == "" {
			logger.Warn("turn: tools_stream without resolvable id, dropping",
				logger.FieldSessionID, st.sessionID,
				logger.FieldTurnID, st.turnID,
			)
			return dispatchResult{}
		}
		content, _ := sse.RawStringField(d, "content")
		if panel, ok := review.ExtractRequest(content, st.sessionID, st.turnID); ok {
			panel.ToolCallID = id
			conversation.MarkToolCallWaiting(msg, id, review.WaitingPlaceholder)
			return dispatchResult{panel: panel, changed: true}
		}
		return dispatchResult{changed: conversation.ApplyToolStream(msg, id, d)}

	case sse.EventToolsEnd:
		id := sse.ToolCallID(d)
		if id == "" {
			logger.Warn("turn: tools_end without resolvable id, dropping",
				logger.FieldSessionID, st.sessionID,
				logger.FieldTurnID, st.turnID,
			)
			return dispatchResult{}
		}
		return dispatchResult{changed: conversation.ApplyToolEnd(msg, id, d)}

	case sse.EventError:
		reason := sse.StringField(d, "error", "message", "content")
		if reason == "" {
			reason = "backend reported an error"
		}
		return dispatchResult{err: apperrors.Newf("turn.dispatch", "backend error: %s", reason)}

	case sse.EventCancelled:
		n := conversation.CancelOpenToolCalls(msg)
		return dispatchResult{outcome: outcomeCancelled, changed: n > 0}

	case sse.EventDone:
		return dispatchResult{outcome: outcomeSuccess}

	case sse.EventComplete:
		full, ok := sse.RawStringField(d, "content", "full_content")
		changed := false
		if ok && full != "" {
			conversation.ApplyCompleteContent(msg, full)
			changed = true
		}
		return dispatchResult{outcome: outcomeSuccess, changed: changed}

	default:
		// 未识别事件: 前向兼容, 忽略。
		logger.Debug("turn: ignoring unrecognized event",
			logger.FieldEventType, ev.Type,
			logger.FieldSessionID, st.sessionID,
		)
		return dispatchResult{}
	}
}

// bumpProcess 在 turn 的用户消息上累加过程计数。用户消息可能已被挤出
// 可见列表, 此时计数静默丢失 (回引无处可挂)。
func bumpProcess(tx *conversation.Tx, st turnState, fn func(*conversation.TurnProcessSummary)) {
	userMsg := tx.Session.MessageByID(st.userID)
	if userMsg == nil {
		return
	}
	conversation.UpdateProcess(userMsg, st.assistantID, fn)
}

// finalizeSummarySegment 用完整摘要定稿当前摘要段;
// 活动段不是 thinking 时退化为开新段。
func finalizeSummarySegment(msg *conversation.Message, full string) {
	segs := msg.Meta.ContentSegments
	idx := msg.Meta.ActiveSegmentIndex
	if idx >= 0 && idx < len(segs) && segs[idx].Type == conversation.SegmentThinking {
		segs[idx].Content = summarizeHeader + full
		return
	}
	conversation.OpenThinkingSegment(msg, summarizeHeader+full)
}

// toolCallList 取 tools_start 携带的原始调用列表 (字段名存在别名)。
func toolCallList(d map[string]any) []any {
	for _, key := range []string{"tool_calls", "tools", "calls"} {
		if list, ok := d[key].([]any); ok {
			return list
		}
	}
	return nil
}

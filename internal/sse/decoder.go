// decoder.go — 帧体 → 事件解码。
package sse

import (
	"encoding/json"

	"github.com/chat-relay/go-chat-v2/pkg/logger"
	"github.com/chat-relay/go-chat-v2/pkg/util"
)

// framePreviewLimit 解码失败日志中的帧体预览上限。
const framePreviewLimit = 200

// DecodeFrames 将一批帧体解码为事件序列。
//
// 规则:
//   - 帧体等于 [DONE] 哨兵 → 返回 end=true, 且该批中后续帧一律不再处理
//     (哨兵总在流尾, 自然顺序下不会有后续帧)。
//   - JSON 解析失败 → Warn + 有界预览, 跳过该帧, 流继续。
//   - type 为空的对象跳过; 未识别的 type 保留, 由 dispatch 层忽略
//     (对新事件种类保持前向兼容)。
func DecodeFrames(frames []string) (events []Event, end bool) {
	for _, frame := range frames {
		if frame == EndSentinel {
			return events, true
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(frame), &payload); err != nil {
			logger.Warn("sse: frame decode failed, skipping",
				logger.FieldError, err,
				logger.FieldFrameLen, len(frame),
				logger.FieldPreview, util.TruncateRunes(frame, framePreviewLimit),
			)
			continue
		}

		eventType := trimmedStringValue(payload["type"])
		if eventType == "" {
			logger.Warn("sse: frame missing type discriminant, skipping",
				logger.FieldFrameLen, len(frame),
				logger.FieldPreview, util.TruncateRunes(frame, framePreviewLimit),
			)
			continue
		}

		events = append(events, Event{Type: eventType, Payload: payload})
	}
	return events, false
}

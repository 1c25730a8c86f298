// segments.go — 流式内容分段重建。
//
// 规则:
//   - 分段只追加, 永不删除或重排。
//   - 只有最新打开的同类分段可原地续写 (activeSegmentIndex 指向它)。
//   - 消息展示文本 = 全部 text 分段按序拼接。
package conversation

// activeSegment 返回当前活动分段; 没有时返回 nil。
func activeSegment(m *Message) *ContentSegment {
	idx := m.Meta.ActiveSegmentIndex
	if idx < 0 || idx >= len(m.Meta.ContentSegments) {
		return nil
	}
	return &m.Meta.ContentSegments[idx]
}

// appendSegment 追加一个新分段并将其设为活动分段。
func appendSegment(m *Message, seg ContentSegment) *ContentSegment {
	m.Meta.ContentSegments = append(m.Meta.ContentSegments, seg)
	m.Meta.ActiveSegmentIndex = len(m.Meta.ContentSegments) - 1
	return &m.Meta.ContentSegments[m.Meta.ActiveSegmentIndex]
}

// AppendText 追加增量正文。活动分段为 text 时原地续写, 否则开新 text 分段。
// 返回是否开了新分段。
func AppendText(m *Message, delta string) bool {
	if delta == "" {
		return false
	}
	if seg := activeSegment(m); seg != nil && seg.Type == SegmentText {
		seg.Content += delta
		recomputeContent(m)
		return false
	}
	appendSegment(m, ContentSegment{Type: SegmentText, Content: delta})
	recomputeContent(m)
	return true
}

// AppendThinking 追加增量思考内容。活动分段为 thinking 时续写, 否则开新分段。
// 返回是否开了新分段 (调用方据此累加过程计数)。
func AppendThinking(m *Message, delta string) bool {
	if delta == "" {
		return false
	}
	if seg := activeSegment(m); seg != nil && seg.Type == SegmentThinking {
		seg.Content += delta
		return false
	}
	appendSegment(m, ContentSegment{Type: SegmentThinking, Content: delta})
	return true
}

// OpenThinkingSegment 强制开一个新 thinking 分段 (上下文摘要等自带边界的场景)。
func OpenThinkingSegment(m *Message, content string) {
	appendSegment(m, ContentSegment{Type: SegmentThinking, Content: content})
}

// OpenToolCallSegment 插入 tool_call 占位分段, 并紧跟一个空 text 分段作为
// 新的活动分段 —— 工具调用之后到来的正文不会混入之前的 text 分段。
func OpenToolCallSegment(m *Message, toolCallID string) {
	appendSegment(m, ContentSegment{Type: SegmentToolCall, ToolCallID: toolCallID})
	appendSegment(m, ContentSegment{Type: SegmentText})
}

// ApplyCompleteContent 应用全量正文: 写入最后一个 text 分段,
// 其余 text 分段清空但保留占位 (分段只追加, 不删除;
// 展示文本拼接后等于全量正文)。没有 text 分段时新开一个。
func ApplyCompleteContent(m *Message, full string) {
	last := -1
	for i := range m.Meta.ContentSegments {
		if m.Meta.ContentSegments[i].Type == SegmentText {
			last = i
		}
	}
	if last < 0 {
		appendSegment(m, ContentSegment{Type: SegmentText, Content: full})
		recomputeContent(m)
		return
	}
	for i := range m.Meta.ContentSegments {
		if m.Meta.ContentSegments[i].Type == SegmentText {
			if i == last {
				m.Meta.ContentSegments[i].Content = full
			} else {
				m.Meta.ContentSegments[i].Content = ""
			}
		}
	}
	m.Meta.ActiveSegmentIndex = last
	recomputeContent(m)
}

// recomputeContent 由 text 分段重算展示文本。
func recomputeContent(m *Message) {
	var text string
	for i := range m.Meta.ContentSegments {
		if m.Meta.ContentSegments[i].Type == SegmentText {
			text += m.Meta.ContentSegments[i].Content
		}
	}
	m.Content = text
}

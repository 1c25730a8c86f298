// process.go — turn 过程计数标注。
//
// 计数器挂在 turn 的用户消息上, 前端据此渲染"过程"折叠面板。
package conversation

// UpdateProcess 对用户消息的过程摘要应用一次变更。
//
// 摘要不存在时就地创建; 每次变更后重算 HasProcess 并恢复两侧
// 消息 id 的回引 (updater 不慎清掉也能复原)。
func UpdateProcess(userMsg *Message, assistantID string, updater func(*TurnProcessSummary)) {
	if userMsg == nil {
		return
	}
	p := userMsg.Meta.HistoryProcess
	if p == nil {
		p = &TurnProcessSummary{}
		userMsg.Meta.HistoryProcess = p
	}
	if updater != nil {
		updater(p)
	}
	p.UserMessageID = userMsg.ID
	p.AssistantMessageID = assistantID
	p.HasProcess = p.ToolCallCount > 0 || p.ThinkingCount > 0 || p.ProcessMessageCount > 0
}

// manager.go — 审核面板登记与决策回收。
package review

import (
	"sync"

	"github.com/chat-relay/go-chat-v2/pkg/errors"
	"github.com/chat-relay/go-chat-v2/pkg/logger"
)

// 决策动作。
const (
	ActionConfirm = "confirm"
	ActionCancel  = "cancel"
)

// Decision 人工决策回传。Confirm 携带编辑后的草稿, Cancel 携带原因。
type Decision struct {
	Action string      `json:"action"`
	Tasks  []TaskDraft `json:"tasks,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Manager 持有全部待决面板。
//
// 同一会话可并存多个面板 (列表语义); 全局只有一个"活动"面板引用
// 供展示层取用。
type Manager struct {
	mu     sync.Mutex
	panels map[string][]*PanelState // sessionID → 面板列表
	active *PanelState
}

// NewManager 创建空管理器。
func NewManager() *Manager {
	return &Manager{panels: make(map[string][]*PanelState)}
}

// Upsert 按 review id 登记或替换面板。makeActive 为真时同时设为活动面板
// (调用方在面板所属会话是当前活动会话时传真)。
func (mgr *Manager) Upsert(panel *PanelState, makeActive bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	list := mgr.panels[panel.SessionID]
	replaced := false
	for i, existing := range list {
		if existing.ReviewID == panel.ReviewID {
			list[i] = panel
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, panel)
	}
	mgr.panels[panel.SessionID] = list
	if makeActive {
		mgr.active = panel
	}
	logger.Info("review: panel upserted",
		logger.FieldReviewID, panel.ReviewID,
		logger.FieldSessionID, panel.SessionID,
		logger.FieldCount, len(panel.Tasks),
	)
}

// Panels 返回会话的面板列表副本。
func (mgr *Manager) Panels(sessionID string) []*PanelState {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return append([]*PanelState(nil), mgr.panels[sessionID]...)
}

// Active 当前活动面板, 可能为 nil。
func (mgr *Manager) Active() *PanelState {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.active
}

// find 按 review id 全局查找 (须持锁)。
func (mgr *Manager) find(reviewID string) (*PanelState, string, int) {
	for sessionID, list := range mgr.panels {
		for i, panel := range list {
			if panel.ReviewID == reviewID {
				return panel, sessionID, i
			}
		}
	}
	return nil, "", -1
}

// Get 按 review id 查找面板。
func (mgr *Manager) Get(reviewID string) (*PanelState, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	panel, _, _ := mgr.find(reviewID)
	if panel == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "review.get", "review panel %s", reviewID)
	}
	return panel, nil
}

// Resolve 应用人工决策并关闭面板。
//
// confirm 要求至少一条草稿, cancel 要求原因; 校验失败面板保留。
// 成功时面板从列表移除, 若恰为活动面板则清除活动引用,
// 返回关闭时的面板与归一化后的决策供上层转发。
func (mgr *Manager) Resolve(reviewID string, decision Decision) (*PanelState, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	panel, sessionID, idx := mgr.find(reviewID)
	if panel == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "review.resolve", "review panel %s", reviewID)
	}

	switch decision.Action {
	case ActionConfirm:
		if len(decision.Tasks) == 0 {
			return nil, errors.Wrap(errors.ErrInvalidInput, "review.resolve", "confirm requires at least one task draft")
		}
	case ActionCancel:
		if decision.Reason == "" {
			return nil, errors.Wrap(errors.ErrInvalidInput, "review.resolve", "cancel requires a reason")
		}
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "review.resolve", "unknown decision action %q", decision.Action)
	}

	list := mgr.panels[sessionID]
	mgr.panels[sessionID] = append(list[:idx], list[idx+1:]...)
	if mgr.active == panel {
		mgr.active = nil
	}
	logger.Info("review: panel resolved",
		logger.FieldReviewID, reviewID,
		logger.FieldSessionID, sessionID,
		logger.FieldStatus, decision.Action,
	)
	return panel, nil
}

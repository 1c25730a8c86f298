// store.go — 会话状态容器与流式草稿快照。
//
// 并发模型: 单写多读。turn 控制器是唯一写者, 所有变更都在
// Update 事务闭包内进行; API/WS 读侧通过 Snapshot 拿深拷贝。
package conversation

import (
	"sync"

	"github.com/chat-relay/go-chat-v2/pkg/logger"
)

// Session 一个会话的可变状态。
type Session struct {
	ID          string
	Messages    []*Message
	IsLoading   bool // 请求已发出, 首字节未到
	IsStreaming bool // 正在接收流
	Error       string
	Model       *ModelConfig
	Agent       *AgentConfig
}

// MessageByID 按 id 查找消息。
func (s *Session) MessageByID(id string) *Message {
	for _, m := range s.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// RemoveMessage 按 id 移除消息, 返回是否移除。
func (s *Session) RemoveMessage(id string) bool {
	for i, m := range s.Messages {
		if m.ID == id {
			s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
			return true
		}
	}
	return false
}

// Store 全部会话状态的持有者。
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	activeID string
	drafts   map[string]*Message // sessionID → 流式草稿快照
}

// NewStore 创建空容器。
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		drafts:   make(map[string]*Message),
	}
}

// sessionLocked 取或建会话 (须持锁)。
func (st *Store) sessionLocked(id string) *Session {
	sess, ok := st.sessions[id]
	if !ok {
		sess = &Session{ID: id}
		st.sessions[id] = sess
	}
	return sess
}

// SetActiveSession 切换当前活动会话。
func (st *Store) SetActiveSession(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessionLocked(id)
	st.activeID = id
}

// ActiveSessionID 当前活动会话 id, 可能为空。
func (st *Store) ActiveSessionID() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.activeID
}

// Tx 一次状态事务, 仅在 Update 闭包内有效。
type Tx struct {
	store   *Store
	Session *Session
}

// Update 在锁内对指定会话执行一次事务。会话不存在时自动创建。
func (st *Store) Update(sessionID string, fn func(tx *Tx)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&Tx{store: st, Session: st.sessionLocked(sessionID)})
}

// AppendMessage 追加消息到会话尾部。
func (tx *Tx) AppendMessage(m *Message) {
	tx.Session.Messages = append(tx.Session.Messages, m)
}

// PersistDraft 保存消息的深拷贝作为会话草稿。
// 之后对活动消息的续写不影响已存快照。
func (tx *Tx) PersistDraft(m *Message) {
	tx.store.drafts[tx.Session.ID] = m.Clone()
}

// ClearDraft 清除会话草稿。turn 终结时恰好调用一次。
func (tx *Tx) ClearDraft() {
	delete(tx.store.drafts, tx.Session.ID)
}

// EnsureMessage 取流式目标消息, 容忍画布被外部重建:
// 消息仍在列表里直接返回; 被挤掉但草稿可恢复时, 由草稿克隆出工作副本,
// 且仅当会话仍是活动会话时回插可见列表; 两者皆无返回 nil
// (调用方应终止本 turn 的续写)。
func (tx *Tx) EnsureMessage(messageID string) *Message {
	if m := tx.Session.MessageByID(messageID); m != nil {
		return m
	}
	draft := tx.store.drafts[tx.Session.ID]
	if draft == nil || draft.ID != messageID {
		return nil
	}
	restored := draft.Clone()
	if tx.store.activeID == tx.Session.ID {
		tx.Session.Messages = append(tx.Session.Messages, restored)
	}
	logger.Info("conversation: streaming message restored from draft",
		logger.FieldSessionID, tx.Session.ID,
		logger.FieldMessageID, messageID,
	)
	return restored
}

// SessionSnapshot 会话状态的只读深拷贝。
type SessionSnapshot struct {
	ID          string     `json:"id"`
	Messages    []*Message `json:"messages"`
	IsLoading   bool       `json:"isLoading"`
	IsStreaming bool       `json:"isStreaming"`
	Error       string     `json:"error,omitempty"`
}

// Snapshot 取会话深拷贝。会话不存在时 ok 为 false。
func (st *Store) Snapshot(sessionID string) (SessionSnapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[sessionID]
	if !ok {
		return SessionSnapshot{}, false
	}
	snap := SessionSnapshot{
		ID:          sess.ID,
		Messages:    make([]*Message, 0, len(sess.Messages)),
		IsLoading:   sess.IsLoading,
		IsStreaming: sess.IsStreaming,
		Error:       sess.Error,
	}
	for _, m := range sess.Messages {
		snap.Messages = append(snap.Messages, m.Clone())
	}
	return snap, true
}

// Draft 取会话草稿的深拷贝, 没有时返回 nil。
func (st *Store) Draft(sessionID string) *Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.drafts[sessionID].Clone()
}

// SessionIDs 全部已知会话 id。
func (st *Store) SessionIDs() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}

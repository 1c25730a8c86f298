// handlers.go — REST handlers。
package apiserver

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/chat-relay/go-chat-v2/internal/bus"
	"github.com/chat-relay/go-chat-v2/internal/conversation"
	"github.com/chat-relay/go-chat-v2/internal/review"
	"github.com/chat-relay/go-chat-v2/internal/transport"
	"github.com/chat-relay/go-chat-v2/internal/turn"
)

func (s *Server) health(c *gin.Context) {
	success(c, gin.H{
		"status":      "ok",
		"subscribers": s.bus.SubscriberCount(),
	})
}

// sendMessageBody 发送请求体。
type sendMessageBody struct {
	Content     string                 `json:"content" binding:"required"`
	Attachments []transport.Attachment `json:"attachments"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	sessionID := c.Param("id")
	err := s.ctrl.Send(c.Request.Context(), turn.SendInput{
		SessionID:   sessionID,
		Content:     body.Content,
		Attachments: body.Attachments,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	// 已在进行中的 turn 也走这里 (静默空操作), 对客户端同样是 accepted
	accepted(c, gin.H{"session_id": sessionID})
}

func (s *Server) abortTurn(c *gin.Context) {
	sessionID := c.Param("id")
	success(c, gin.H{"aborted": s.ctrl.Abort(sessionID)})
}

func (s *Server) activateSession(c *gin.Context) {
	sessionID := c.Param("id")
	s.store.SetActiveSession(sessionID)
	success(c, gin.H{"active_session": sessionID})
}

// targetBody 目标设置: model 与 agent 至多一个。
type targetBody struct {
	Model *conversation.ModelConfig `json:"model"`
	Agent *conversation.AgentConfig `json:"agent"`
}

func (s *Server) setTarget(c *gin.Context) {
	var body targetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if body.Model != nil && body.Agent != nil && body.Model.Enabled && body.Agent.Enabled {
		badRequest(c, "invalid_target", "enable exactly one of model or agent")
		return
	}
	s.store.Update(c.Param("id"), func(tx *conversation.Tx) {
		tx.Session.Model = body.Model
		tx.Session.Agent = body.Agent
	})
	success(c, gin.H{"updated": true})
}

func (s *Server) sessionSnapshot(c *gin.Context) {
	snap, ok := s.store.Snapshot(c.Param("id"))
	if !ok {
		notFound(c, "session not found")
		return
	}
	success(c, snap)
}

func (s *Server) sessionDraft(c *gin.Context) {
	draft := s.store.Draft(c.Param("id"))
	if draft == nil {
		notFound(c, "no draft for session")
		return
	}
	success(c, draft)
}

func (s *Server) listReviews(c *gin.Context) {
	sessionID := c.Query("session")
	if sessionID == "" {
		badRequest(c, "invalid_input", "session query parameter required")
		return
	}
	success(c, gin.H{
		"panels": s.reviews.Panels(sessionID),
	})
}

func (s *Server) resolveReview(c *gin.Context) {
	var decision review.Decision
	if err := c.ShouldBindJSON(&decision); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	reviewID := c.Param("id")
	panel, err := s.reviews.Resolve(reviewID, decision)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	payload, _ := json.Marshal(gin.H{
		"review_id": reviewID,
		"action":    decision.Action,
	})
	s.bus.Publish(bus.Message{
		Topic:     bus.SessionReviewTopic(panel.SessionID),
		SessionID: panel.SessionID,
		Type:      bus.MsgReviewResolved,
		Payload:   payload,
	})
	success(c, gin.H{"review_id": reviewID, "session_id": panel.SessionID})
}

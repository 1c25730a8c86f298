package turn

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chat-relay/go-chat-v2/internal/bus"
	"github.com/chat-relay/go-chat-v2/internal/config"
	"github.com/chat-relay/go-chat-v2/internal/conversation"
	"github.com/chat-relay/go-chat-v2/internal/review"
	"github.com/chat-relay/go-chat-v2/internal/transport"
	apperrors "github.com/chat-relay/go-chat-v2/pkg/errors"
)

// fakeTransport 回放固定字节流。
type fakeTransport struct {
	mu      sync.Mutex
	stream  string
	openErr error
	opened  []transport.TurnRequest
}

func (f *fakeTransport) OpenTurn(_ context.Context, req transport.TurnRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, req)
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type testRig struct {
	ctrl    *Controller
	store   *conversation.Store
	reviews *review.Manager
	bus     *bus.MessageBus
	tr      *fakeTransport
}

func newRig(stream string) *testRig {
	cfg := &config.Config{
		AttachmentInlineLimit: 1024,
		ReasoningEnabled:      true,
	}
	rig := &testRig{
		store:   conversation.NewStore(),
		reviews: review.NewManager(),
		bus:     bus.NewMessageBus(),
		tr:      &fakeTransport{stream: stream},
	}
	rig.ctrl = NewController(cfg, rig.store, rig.reviews, rig.tr, rig.bus)
	rig.store.SetActiveSession("s1")
	rig.store.Update("s1", func(tx *conversation.Tx) {
		tx.Session.Agent = &conversation.AgentConfig{ID: "planner", Enabled: true}
	})
	return rig
}

// waitTerminal 订阅须在 Send 之前建立。
func waitTerminal(t *testing.T, sub *bus.Subscriber) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-sub.Ch:
			switch msg.Type {
			case bus.MsgTurnCompleted, bus.MsgTurnCancelled, bus.MsgTurnFailed:
				return msg.Type
			}
		case <-deadline:
			t.Fatal("timeout waiting for turn to finish")
		}
	}
}

func frames(bodies ...string) string {
	var sb strings.Builder
	for _, b := range bodies {
		sb.WriteString("data: ")
		sb.WriteString(b)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestSendSimpleReply(t *testing.T) {
	rig := newRig(frames(
		`{"type":"chunk","data":{"content":"Hello"}}`,
		`{"type":"chunk","data":{"content":", world"}}`,
		`{"type":"done"}`,
	))
	sub := rig.bus.Subscribe("test", "session.s1")
	defer rig.bus.Unsubscribe("test")

	if err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := waitTerminal(t, sub); got != bus.MsgTurnCompleted {
		t.Fatalf("terminal = %q", got)
	}

	snap, _ := rig.store.Snapshot("s1")
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(snap.Messages))
	}
	assistant := snap.Messages[1]
	if assistant.Content != "Hello, world" {
		t.Errorf("content = %q", assistant.Content)
	}
	if assistant.Status != conversation.StatusCompleted {
		t.Errorf("status = %q", assistant.Status)
	}
	if snap.IsLoading || snap.IsStreaming {
		t.Error("flags should be cleared after finalize")
	}
	if rig.store.Draft("s1") != nil {
		t.Error("draft should be cleared exactly once at finalize")
	}
}

func TestSendToolRoundTrip(t *testing.T) {
	rig := newRig(frames(
		`{"type":"tools_start","data":{"tool_calls":[{"id":"t1","function":{"name":"search","arguments":"{}"}}]}}`,
		`{"type":"tools_stream","data":{"tool_call_id":"t1","content":"partial","is_stream":true}}`,
		`{"type":"tools_end","data":{"tool_call_id":"t1","result":"final"}}`,
		`{"type":"done"}`,
	))
	sub := rig.bus.Subscribe("test", "session.s1")
	defer rig.bus.Unsubscribe("test")

	if err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "go"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitTerminal(t, sub)

	snap, _ := rig.store.Snapshot("s1")
	tc := conversation.FindToolCall(snap.Messages[1], "t1")
	if tc == nil {
		t.Fatal("tool call missing")
	}
	if tc.StreamLog != "partial" || tc.Result != "final" || tc.FinalResult != "final" || !tc.Completed {
		t.Errorf("tool call = %#v", tc)
	}
}

// error 事件: 两条占位消息整对回滚, 消息数回到 turn 前。
func TestSendErrorRollsBackPlaceholders(t *testing.T) {
	rig := newRig(frames(
		`{"type":"chunk","data":{"content":"partial answer"}}`,
		`{"type":"error","data":{"message":"model overloaded"}}`,
	))
	sub := rig.bus.Subscribe("test", "session.s1")
	defer rig.bus.Unsubscribe("test")

	if err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := waitTerminal(t, sub); got != bus.MsgTurnFailed {
		t.Fatalf("terminal = %q", got)
	}

	snap, _ := rig.store.Snapshot("s1")
	if len(snap.Messages) != 0 {
		t.Errorf("messages = %d, want 0 after rollback", len(snap.Messages))
	}
	if !strings.Contains(snap.Error, "model overloaded") {
		t.Errorf("session error = %q", snap.Error)
	}
	if snap.IsLoading || snap.IsStreaming {
		t.Error("flags should be cleared after rollback")
	}
	if rig.store.Draft("s1") != nil {
		t.Error("draft should be cleared after rollback")
	}
}

func TestSendCancelledEvent(t *testing.T) {
	rig := newRig(frames(
		`{"type":"tools_start","data":{"tool_calls":[{"id":"t1","name":"x"}]}}`,
		`{"type":"cancelled"}`,
	))
	sub := rig.bus.Subscribe("test", "session.s1")
	defer rig.bus.Unsubscribe("test")

	_ = rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "hi"})
	if got := waitTerminal(t, sub); got != bus.MsgTurnCancelled {
		t.Fatalf("terminal = %q", got)
	}

	snap, _ := rig.store.Snapshot("s1")
	if len(snap.Messages) != 2 {
		t.Fatalf("cancel keeps placeholders, got %d messages", len(snap.Messages))
	}
	tc := conversation.FindToolCall(snap.Messages[1], "t1")
	if !tc.Completed || tc.Error != "cancelled" {
		t.Errorf("tool call = %#v", tc)
	}
	if snap.Messages[1].Status != conversation.StatusCompleted {
		t.Errorf("status = %q", snap.Messages[1].Status)
	}
}

// 进行中 turn 再次 Send 是静默空操作。
func TestSendInFlightGuard(t *testing.T) {
	rig := newRig("")
	rig.store.Update("s1", func(tx *conversation.Tx) {
		tx.Session.IsStreaming = true
	})
	if err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "again"}); err != nil {
		t.Fatalf("in-flight send should be a silent no-op, got %v", err)
	}
	if rig.tr.openCount() != 0 {
		t.Error("transport must not be opened for a guarded send")
	}
}

func TestSendNoTarget(t *testing.T) {
	rig := newRig("")
	rig.store.Update("s1", func(tx *conversation.Tx) {
		tx.Session.Agent = nil
	})
	err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "hi"})
	if !apperrors.Is(err, apperrors.ErrNoTarget) {
		t.Fatalf("err = %v, want ErrNoTarget", err)
	}
	if snap, _ := rig.store.Snapshot("s1"); snap.Error == "" {
		t.Error("setup failure should surface on the session")
	}

	// model 和 agent 同时可用也是无效目标 (必须恰好一个)。
	rig.store.Update("s1", func(tx *conversation.Tx) {
		tx.Session.Model = &conversation.ModelConfig{ID: "m1", Enabled: true}
		tx.Session.Agent = &conversation.AgentConfig{ID: "a1", Enabled: true}
	})
	if err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "hi"}); !apperrors.Is(err, apperrors.ErrNoTarget) {
		t.Fatalf("both targets: err = %v", err)
	}
	if rig.tr.openCount() != 0 {
		t.Error("transport must not be opened without a resolvable target")
	}
}

func TestSendEmptyContent(t *testing.T) {
	rig := newRig("")
	if err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "  "}); !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendOpenStreamFailure(t *testing.T) {
	rig := newRig("")
	rig.tr.openErr = apperrors.New("fake", "connection refused")
	err := rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "hi"})
	if err == nil {
		t.Fatal("open failure should propagate")
	}
	snap, _ := rig.store.Snapshot("s1")
	if len(snap.Messages) != 0 {
		t.Error("no placeholders before the stream opens, nothing to roll back")
	}
	if snap.IsLoading {
		t.Error("loading flag should be reset on setup failure")
	}
}

func TestSendBuildsTurnRequest(t *testing.T) {
	rig := newRig(frames(`{"type":"done"}`))
	sub := rig.bus.Subscribe("test", "session.s1")
	defer rig.bus.Unsubscribe("test")

	big := strings.Repeat("x", 10)
	_ = rig.ctrl.Send(context.Background(), SendInput{
		SessionID: "s1",
		Content:   "hi",
		Attachments: []transport.Attachment{
			{Name: "a.png", MimeType: "image/png", SizeBytes: 99999, InlineData: big},
		},
	})
	waitTerminal(t, sub)

	rig.tr.mu.Lock()
	req := rig.tr.opened[0]
	rig.tr.mu.Unlock()
	if req.AgentID != "planner" || req.Model != nil {
		t.Errorf("target: %#v", req)
	}
	if !req.ReasoningEnabled {
		t.Error("reasoning flag should come from config")
	}
	if req.TurnID == "" {
		t.Error("fresh turn id expected")
	}
	if req.Attachments[0].InlineData != "" || !req.Attachments[0].MetadataOnly {
		t.Errorf("oversized attachment should be reduced: %#v", req.Attachments[0])
	}
}

// review 标记: 面板登记 + 工具调用挂起等待。
func TestSendReviewExtraction(t *testing.T) {
	marker := `{\"type\":\"task_review_request\",\"review_id\":\"r1\",\"draft_tasks\":[{\"title\":\"one\"},{\"title\":\"two\"}]}`
	rig := newRig(frames(
		`{"type":"tools_start","data":{"tool_calls":[{"id":"t1","name":"create_tasks"}]}}`,
		`{"type":"tools_stream","data":{"tool_call_id":"t1","content":"`+marker+`"}}`,
		`{"type":"done"}`,
	))
	sub := rig.bus.Subscribe("test", "session.s1")
	defer rig.bus.Unsubscribe("test")

	_ = rig.ctrl.Send(context.Background(), SendInput{SessionID: "s1", Content: "plan it"})
	waitTerminal(t, sub)

	panels := rig.reviews.Panels("s1")
	if len(panels) != 1 || panels[0].ReviewID != "r1" {
		t.Fatalf("panels = %#v", panels)
	}
	if len(panels[0].Tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(panels[0].Tasks))
	}
	if active := rig.reviews.Active(); active == nil || active.ReviewID != "r1" {
		t.Errorf("active session's panel should become the active panel: %#v", active)
	}
}

func TestAbortUnknownSession(t *testing.T) {
	rig := newRig("")
	if rig.ctrl.Abort("nope") {
		t.Error("abort without in-flight turn should report false")
	}
}

package conversation

import (
	"strings"
	"testing"
)

func registerOne(t *testing.T, m *Message, entry map[string]any) string {
	t.Helper()
	ids := RegisterToolCalls(m, []any{entry})
	if len(ids) != 1 {
		t.Fatalf("registered %d tool calls, want 1", len(ids))
	}
	return ids[0]
}

func TestRegisterToolCallsFieldAliases(t *testing.T) {
	m := newAssistant()
	ids := RegisterToolCalls(m, []any{
		map[string]any{
			"id": "call-1",
			"function": map[string]any{
				"name":      "read_file",
				"arguments": `{"path":"/tmp/x"}`,
			},
		},
		map[string]any{
			"tool_call_id": "call-2",
			"name":         "flat_shape",
			"arguments":    map[string]any{"q": "hi"},
		},
	})
	if len(ids) != 2 {
		t.Fatalf("ids = %#v", ids)
	}
	tc1 := FindToolCall(m, "call-1")
	if tc1 == nil || tc1.Name != "read_file" || tc1.Arguments != `{"path":"/tmp/x"}` {
		t.Errorf("nested shape: %#v", tc1)
	}
	tc2 := FindToolCall(m, "call-2")
	if tc2 == nil || tc2.Name != "flat_shape" {
		t.Fatalf("flat shape: %#v", tc2)
	}
	if !strings.Contains(tc2.Arguments, `"q":"hi"`) {
		t.Errorf("object arguments should be serialized, got %q", tc2.Arguments)
	}
}

func TestRegisterToolCallsGeneratesMissingID(t *testing.T) {
	m := newAssistant()
	id := registerOne(t, m, map[string]any{"name": "anon"})
	if id == "" {
		t.Fatal("missing id must be filled with a generated one")
	}
	if FindToolCall(m, id) == nil {
		t.Error("generated id should be findable")
	}
}

func TestRegisterToolCallsInsertsSegments(t *testing.T) {
	m := newAssistant()
	AppendText(m, "calling now: ")
	id := registerOne(t, m, map[string]any{"id": "tc-9", "name": "search"})
	segs := m.Meta.ContentSegments
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want text + tool_call + trailing text", len(segs))
	}
	if segs[1].Type != SegmentToolCall || segs[1].ToolCallID != id {
		t.Errorf("tool_call segment = %#v", segs[1])
	}
	if seg := activeSegment(m); seg == nil || seg.Type != SegmentText {
		t.Error("active segment after registration should be the trailing text segment")
	}
}

func TestApplyToolStreamIncremental(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "run"})

	ApplyToolStream(m, "tc-1", map[string]any{"content": "line1\n", "is_stream": true})
	ApplyToolStream(m, "tc-1", map[string]any{"content": "line2\n", "is_stream": true})

	tc := FindToolCall(m, "tc-1")
	if tc.Result != "line1\nline2\n" {
		t.Errorf("incremental result = %q", tc.Result)
	}
	if tc.StreamLog != "line1\nline2\n" {
		t.Errorf("stream log = %q", tc.StreamLog)
	}
	if tc.Completed {
		t.Error("stream chunks must not complete the call")
	}
}

func TestApplyToolStreamReplacement(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "run"})

	ApplyToolStream(m, "tc-1", map[string]any{"content": "draft", "is_stream": true})
	ApplyToolStream(m, "tc-1", map[string]any{"content": "full output"})

	tc := FindToolCall(m, "tc-1")
	if tc.Result != "full output" || tc.FinalResult != "full output" {
		t.Errorf("replacement result=%q final=%q", tc.Result, tc.FinalResult)
	}
	if !tc.Completed {
		t.Error("authoritative replacement should complete the call")
	}
	// StreamLog 始终累积, 不被替换语义覆盖。
	if tc.StreamLog != "draftfull output" {
		t.Errorf("stream log = %q", tc.StreamLog)
	}
}

// cancelled 收尾: 全部调用置 Completed, 已有输出不被覆盖。
func TestCancelOpenToolCalls(t *testing.T) {
	m := newAssistant()
	RegisterToolCalls(m, []any{
		map[string]any{"id": "open-empty", "name": "a"},
		map[string]any{"id": "open-partial", "name": "b"},
		map[string]any{"id": "finished", "name": "c"},
	})
	ApplyToolStream(m, "open-partial", map[string]any{"content": "half", "is_stream": true})
	ApplyToolEnd(m, "finished", map[string]any{"result": "ok"})

	if n := CancelOpenToolCalls(m); n != 2 {
		t.Errorf("cancelled %d calls, want 2", n)
	}
	for _, id := range []string{"open-empty", "open-partial", "finished"} {
		if tc := FindToolCall(m, id); !tc.Completed {
			t.Errorf("%s not completed after cancel", id)
		}
	}
	if tc := FindToolCall(m, "open-empty"); tc.Error != "cancelled" {
		t.Errorf("empty call error = %q", tc.Error)
	}
	if tc := FindToolCall(m, "open-partial"); tc.Error != "" || tc.Result != "half" {
		t.Errorf("partial call must keep its output: %#v", tc)
	}
	if tc := FindToolCall(m, "finished"); tc.Result != "ok" {
		t.Errorf("finished call overwritten: %#v", tc)
	}
}

func TestCancelOpenToolCallsEmpty(t *testing.T) {
	m := newAssistant()
	if n := CancelOpenToolCalls(m); n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestMarkToolCallWaiting(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "create_tasks"})
	if !MarkToolCallWaiting(m, "tc-1", "waiting for confirmation") {
		t.Fatal("known id should be markable")
	}
	tc := FindToolCall(m, "tc-1")
	if tc.Result != "waiting for confirmation" || tc.Completed {
		t.Errorf("waiting state: %#v", tc)
	}
	if MarkToolCallWaiting(m, "ghost", "x") {
		t.Error("unknown id should fail")
	}
}

// 已完成的调用拒绝一切迟到的流式块。
func TestApplyToolStreamIgnoredAfterCompletion(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "run"})
	ApplyToolEnd(m, "tc-1", map[string]any{"result": "final"})

	if ApplyToolStream(m, "tc-1", map[string]any{"content": "late", "is_stream": true}) {
		t.Error("late chunk should report no change")
	}
	tc := FindToolCall(m, "tc-1")
	if tc.Result != "final" || tc.StreamLog != "" {
		t.Errorf("late chunk mutated state: result=%q log=%q", tc.Result, tc.StreamLog)
	}
}

func TestApplyToolEndResultPriority(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "run"})
	ApplyToolEnd(m, "tc-1", map[string]any{"content": "from content", "output": "from output"})
	tc := FindToolCall(m, "tc-1")
	if tc.FinalResult != "from content" {
		t.Errorf("final = %q, want content before output", tc.FinalResult)
	}
	if !tc.Completed {
		t.Error("tools_end must complete the call")
	}
}

func TestApplyToolEndEmptyKeepsResult(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "run"})
	ApplyToolStream(m, "tc-1", map[string]any{"content": "kept", "is_stream": true})
	ApplyToolEnd(m, "tc-1", map[string]any{})
	tc := FindToolCall(m, "tc-1")
	if tc.Result != "kept" {
		t.Errorf("empty final output must not wipe result, got %q", tc.Result)
	}
	if tc.FinalResult != "" {
		t.Errorf("final = %q, want empty", tc.FinalResult)
	}
}

func TestApplyToolEndSuccessClearsTransientError(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "run"})
	tc := FindToolCall(m, "tc-1")
	tc.Error = "transient"
	ApplyToolEnd(m, "tc-1", map[string]any{"result": "ok"})
	if tc.Error != "" || tc.FinalResult != "ok" {
		t.Errorf("error=%q final=%q", tc.Error, tc.FinalResult)
	}
}

// Error 与 FinalResult 互斥。
func TestFailureSignalExclusiveWithFinalResult(t *testing.T) {
	m := newAssistant()
	registerOne(t, m, map[string]any{"id": "tc-1", "name": "run"})
	ApplyToolStream(m, "tc-1", map[string]any{"success": false, "error": "boom"})
	tc := FindToolCall(m, "tc-1")
	if !tc.Completed || tc.Error != "boom" || tc.FinalResult != "" {
		t.Errorf("failure state: %#v", tc)
	}
}

func TestApplyToolStreamUnknownID(t *testing.T) {
	m := newAssistant()
	if ApplyToolStream(m, "nope", map[string]any{"content": "x"}) {
		t.Error("unknown id should report no change")
	}
	if ApplyToolEnd(m, "nope", map[string]any{"result": "x"}) {
		t.Error("unknown id should report no change")
	}
}

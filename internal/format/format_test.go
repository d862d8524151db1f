package format

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/lofyer/warp-multiproxy-go/internal/server/sse"
	"github.com/lofyer/warp-multiproxy-go/internal/stream"
)

// flushRecorder is a minimal http.ResponseWriter+http.Flusher backed by a
// buffer, since httptest.ResponseRecorder doesn't implement http.Flusher.
type flushRecorder struct {
	header http.Header
	buf    bytes.Buffer
}

func (f *flushRecorder) Header() http.Header         { return f.header }
func (f *flushRecorder) Write(b []byte) (int, error) { return f.buf.Write(b) }
func (f *flushRecorder) WriteHeader(int)             {}
func (f *flushRecorder) Flush()                      {}

func newTestWriter(t *testing.T) (*sse.Writer, *flushRecorder) {
	t.Helper()
	fr := &flushRecorder{header: http.Header{}}
	w, err := sse.NewWriter(fr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return w, fr
}

func TestTransformMCPToolCall_UnwrapsGateway(t *testing.T) {
	name, args := TransformMCPToolCall("call_mcp_tool", `{"name":"read_file","arguments":{"path":"a.go"}}`)
	if name != "read_file" {
		t.Errorf("expected unwrapped name read_file, got %q", name)
	}
	if args != `{"path":"a.go"}` {
		t.Errorf("expected unwrapped arguments, got %q", args)
	}
}

func TestTransformMCPToolCall_PassesThroughOtherNames(t *testing.T) {
	name, args := TransformMCPToolCall("read_file", `{"path":"a.go"}`)
	if name != "read_file" || args != `{"path":"a.go"}` {
		t.Errorf("expected passthrough, got %q %q", name, args)
	}
}

func TestParseOpenAIRequest_ExtractsLiveUserTurnAndHistory(t *testing.T) {
	body := []byte(`{
		"model": "auto",
		"stream": true,
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "user", "content": "what's next"}
		]
	}`)

	req, err := ParseOpenAIRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.UserText != "what's next" {
		t.Errorf("expected live user text %q, got %q", "what's next", req.UserText)
	}
	if len(req.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d: %+v", len(req.History), req.History)
	}
	if req.History[0].Content != "hi" || req.History[1].Content != "hello" {
		t.Errorf("unexpected history order: %+v", req.History)
	}
}

func TestParseOpenAIRequest_ToolMessageStaysInHistory(t *testing.T) {
	body := []byte(`{
		"model": "auto",
		"messages": [
			{"role": "user", "content": "run it"},
			{"role": "assistant", "content": "", "tool_calls": [{"id": "c1", "type": "function", "function": {"name": "run", "arguments": "{}"}}]},
			{"role": "tool", "tool_call_id": "c1", "content": "ok"}
		]
	}`)

	req, err := ParseOpenAIRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.UserText != "" {
		t.Errorf("expected no live user text (user turn was consumed into history), got %q", req.UserText)
	}
	if len(req.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(req.History))
	}
	if req.History[2].Role != "tool" || req.History[2].ToolCallID != "c1" {
		t.Errorf("expected trailing tool result, got %+v", req.History[2])
	}
}

func TestParseAnthropicRequest_FoldsSystemAndToolResult(t *testing.T) {
	body := []byte(`{
		"model": "claude-3",
		"system": "be terse",
		"messages": [
			{"role": "user", "content": "run the tool"},
			{"role": "assistant", "content": [{"type": "tool_use", "id": "t1", "name": "search", "input": {"q": "go"}}]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "t1", "content": "3 results"}]}
		]
	}`)

	req, err := ParseAnthropicRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.UserText != "" {
		t.Errorf("expected no live user text since the trailing user turn was only a tool_result, got %q", req.UserText)
	}

	var found bool
	for _, m := range req.History {
		if m.Role == "user" && m.Content == "be terse" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected system prompt folded as a leading user message, got %+v", req.History)
	}

	last := req.History[len(req.History)-1]
	if last.Role != "tool" || last.ToolCallID != "t1" || last.Content != "3 results" {
		t.Errorf("expected trailing tool result message, got %+v", last)
	}

	var sawToolUse bool
	for _, m := range req.History {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 && m.ToolCalls[0].Name == "search" {
			sawToolUse = true
		}
	}
	if !sawToolUse {
		t.Errorf("expected assistant tool_use folded into a ToolCallRef, got %+v", req.History)
	}
}

func TestOpenAIStreamer_EmitsRoleContentAndDoneOnce(t *testing.T) {
	w, fr := newTestWriter(t)
	s := NewOpenAIStreamer(w, "cmpl-1", "auto")

	textEvent := &stream.Event{Actions: []stream.Action{{AppendContent: &stream.TaskMessage{AgentOutput: stream.AgentOutput{Text: "hi"}}}}}
	if _, err := s.HandleEvent(textEvent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	finishEvent := &stream.Event{Finished: &stream.Finished{}}
	if done, err := s.HandleEvent(finishEvent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if !done {
		t.Error("expected HandleEvent to report done on a finished event")
	}

	out := fr.buf.String()
	if !strings.Contains(out, `"role":"assistant"`) {
		t.Errorf("expected a role chunk, got %s", out)
	}
	if !strings.Contains(out, `"content":"hi"`) {
		t.Errorf("expected a content chunk, got %s", out)
	}
	if !strings.Contains(out, "data: [DONE]") {
		t.Errorf("expected a terminal [DONE] frame, got %s", out)
	}
}

func TestAnthropicStreamer_EmitsToolUseBlockOnFinish(t *testing.T) {
	w, fr := newTestWriter(t)
	s := NewAnthropicStreamer(w, "msg-1", "claude-3", 10)
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	toolEvent := &stream.Event{Actions: []stream.Action{{ToolCall: &stream.ToolCall{Index: 0, ID: "abc", Name: "search", Arguments: `{"q":"go"}`}}}}
	if _, err := s.HandleEvent(toolEvent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done, err := s.HandleEvent(&stream.Event{Finished: &stream.Finished{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected HandleEvent to report done on a finished event")
	}

	out := fr.buf.String()
	if !strings.Contains(out, `"type":"tool_use"`) {
		t.Errorf("expected a tool_use content block, got %s", out)
	}
	if !strings.Contains(out, `"id":"toolu_abc"`) {
		t.Errorf("expected the tool id to get a toolu_ prefix, got %s", out)
	}
	if !strings.Contains(out, `"stop_reason":"tool_use"`) {
		t.Errorf("expected stop_reason tool_use, got %s", out)
	}
	if !strings.Contains(out, `"type":"message_stop"`) {
		t.Errorf("expected message_stop, got %s", out)
	}
}

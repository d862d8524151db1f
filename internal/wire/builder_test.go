package wire

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestBuildNewConversation_SubstitutesQuery(t *testing.T) {
	out := BuildNewConversation("hello there")

	if len(out) == 0 {
		t.Fatal("expected non-empty request")
	}
	if out[0] != 0x0a || out[1] != 0x00 {
		t.Errorf("expected leading empty TaskContext (0a 00), got % x", out[:2])
	}

	// The settings/metadata tail copied from the template must still be
	// present and untouched by the query-length change.
	if !strings.Contains(string(out), "entrypoint") {
		t.Error("expected metadata tail (entrypoint) to survive query substitution")
	}
}

func TestBuildNewConversation_LongerQueryAdjustsLengths(t *testing.T) {
	short := BuildNewConversation("hi")
	long := BuildNewConversation(strings.Repeat("a", 200))

	if len(long) <= len(short) {
		t.Errorf("expected longer query to produce a longer request: short=%d long=%d", len(short), len(long))
	}

	// Every length-delimited message from Input. down to the query string
	// must parse cleanly under protowire, proving the length prefixes were
	// recomputed consistently rather than left stale.
	rest := long
	_, _, n := protowire.ConsumeTag(rest)
	rest = rest[n:]
	_, n = protowire.ConsumeVarint(rest)
	rest = rest[n:]

	_, _, n = protowire.ConsumeTag(rest)
	if n <= 0 {
		t.Fatal("expected a valid Input tag")
	}
}

func TestFoldQuery_OrdersHistoryThenLiveTurn(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "what's the weather"},
		{Role: "assistant", Content: "let me check", ToolCalls: []ToolCallRef{{Name: "get_weather", Arguments: `{"city":"nyc"}`}}},
		{Role: "tool", ToolCallID: "call_1", Content: "sunny, 72F"},
	}

	got := FoldQuery(history, nil, "thanks, what about tomorrow?", BuildOptions{})

	wantOrder := []string{
		"User: what's the weather",
		"Assistant: let me check",
		"Tool calls: Called get_weather",
		"Tool result (call_1): sunny, 72F",
		"User: thanks, what about tomorrow?",
	}
	last := -1
	for _, w := range wantOrder {
		idx := strings.Index(got, w)
		if idx == -1 {
			t.Fatalf("expected folded query to contain %q, got:\n%s", w, got)
		}
		if idx < last {
			t.Fatalf("expected %q to appear after previous fragment", w)
		}
		last = idx
	}
}

func TestFoldQuery_NoUserTextAddsImplicitContinuation(t *testing.T) {
	results := []ToolResult{{ToolCallID: "call_2", Content: "42"}}
	got := FoldQuery(nil, results, "", BuildOptions{})

	if !strings.Contains(got, "Tool result (call_2): 42") {
		t.Errorf("expected tool result in folded query, got %q", got)
	}
	if !strings.Contains(got, "Please analyze the tool results above") {
		t.Errorf("expected implicit continuation nudge, got %q", got)
	}
}

func TestFoldQuery_TruncatesToCaps(t *testing.T) {
	var history []Message
	for i := 0; i < 30; i++ {
		history = append(history, Message{Role: "user", Content: "msg"})
	}
	got := FoldQuery(history, nil, "", BuildOptions{MaxHistoryMessages: 5})

	if strings.Count(got, "User: msg") != 5 {
		t.Errorf("expected exactly 5 retained history messages, got %d", strings.Count(got, "User: msg"))
	}
}

func TestBuildContinuation_OmitsConversationID(t *testing.T) {
	out := BuildContinuation("hello again", BuildOptions{})

	// metadata (field 4) must never appear: setting conversation_id was
	// observed upstream to produce empty responses. Walk the top-level
	// fields rather than grep for the tag byte, since 0x22 alone is too
	// common to assert absence of reliably.
	rest := out
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			t.Fatalf("invalid tag while scanning request")
		}
		rest = rest[n:]
		if num == fieldMetadata {
			t.Fatal("expected no metadata field in a continuation request")
		}
		switch typ {
		case protowire.BytesType:
			_, n := protowire.ConsumeBytes(rest)
			rest = rest[n:]
		case protowire.VarintType:
			_, n := protowire.ConsumeVarint(rest)
			rest = rest[n:]
		default:
			t.Fatalf("unexpected wire type %v", typ)
		}
	}
}

func TestBuildSplit_OneRequestPerToolResult(t *testing.T) {
	results := []ToolResult{
		{ToolCallID: "call_1", Content: "a"},
		{ToolCallID: "call_2", Content: "b"},
	}
	out := BuildSplit("what now?", nil, results, BuildOptions{})

	if len(out) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(out))
	}
	if strings.Contains(string(out[0]), "what now?") {
		t.Error("expected the live user turn only on the final split request")
	}
	if !strings.Contains(string(out[1]), "what now?") {
		t.Error("expected the live user turn on the final split request")
	}
}

func TestBuild_DispatchesNewVsContinuation(t *testing.T) {
	fresh := Build("hi", nil, nil, false, BuildOptions{})
	if fresh[0] != 0x0a || fresh[1] != 0x00 {
		t.Error("expected template-based request for a brand-new conversation")
	}

	withHistory := Build("hi", []Message{{Role: "user", Content: "prior"}}, nil, false, BuildOptions{})
	if strings.Contains(string(withHistory), "e4bda0e5a5bde59180") {
		t.Error("continuation request should not reuse the template's placeholder query")
	}
}

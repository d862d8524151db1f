// Package format implements C7: translating between the two client wire
// formats this proxy accepts (OpenAI chat.completions, Anthropic messages)
// and the upstream's folded-history query text (internal/wire) and decoded
// event stream (internal/stream).
package format

import (
	"encoding/json"

	"github.com/lofyer/warp-multiproxy-go/internal/wire"
)

// ToolCallRef is one tool invocation an assistant turn made, in whichever
// client format it arrived as.
type ToolCallRef struct {
	ID        string
	Name      string
	Arguments string // raw JSON object, as the client sent it
}

// ChatMessage is a client message normalized out of either wire format,
// before it is folded into upstream query text.
type ChatMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCallID string
	ToolCalls  []ToolCallRef
}

// ToolDef is a client-declared function tool, normalized from either
// format's tool list.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// FoldRequest is the format-agnostic shape both adapters reduce a client
// request down to before handing off to internal/wire.
type FoldRequest struct {
	Model              string
	Stream             bool
	History            []wire.Message // every prior turn, oldest first
	PendingResults     []wire.ToolResult
	UserText           string
	Tools              []ToolDef
	DisableWarpTools   bool
	MaxHistoryMessages int
	MaxToolResults     int
}

// toWireHistory converts normalized chat history into wire.Message; "tool"
// role entries stay interleaved in history here and are pulled back out by
// splitPendingToolResults when they belong to the live turn.
func toWireHistory(msgs []ChatMessage) (history []wire.Message) {
	for _, m := range msgs {
		switch m.Role {
		case "user", "system":
			history = append(history, wire.Message{Role: "user", Content: m.Content})
		case "assistant":
			var calls []wire.ToolCallRef
			for _, tc := range m.ToolCalls {
				calls = append(calls, wire.ToolCallRef{Name: tc.Name, Arguments: tc.Arguments})
			}
			history = append(history, wire.Message{Role: "assistant", Content: m.Content, ToolCalls: calls})
		case "tool":
			history = append(history, wire.Message{Role: "tool", ToolCallID: m.ToolCallID, Content: m.Content})
		}
	}
	return history
}

// splitPendingToolResults pulls a trailing contiguous run of "tool" role
// messages off the end of history into PendingResults. A conversation that
// ends with tool output and no further free-text turn is the live turn's
// tool-result follow-up, not settled history: this lets the dispatcher build
// one upstream request per result when split_toolcall_result is enabled,
// instead of always folding results into a single synthetic query. A turn
// that continues with ordinary user text after the tool results is left
// untouched, since those results already have an answer folded around them.
func splitPendingToolResults(history []wire.Message) ([]wire.Message, []wire.ToolResult) {
	end := len(history)
	for end > 0 && history[end-1].Role == "tool" {
		end--
	}
	if end == len(history) {
		return history, nil
	}
	pending := make([]wire.ToolResult, 0, len(history)-end)
	for _, m := range history[end:] {
		pending = append(pending, wire.ToolResult{ToolCallID: m.ToolCallID, Content: m.Content})
	}
	return history[:end], pending
}

func toWireTools(defs []ToolDef) []wire.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]wire.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, wire.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: []byte(d.Parameters),
		})
	}
	return tools
}

// BuildOptions projects a FoldRequest onto internal/wire's BuildOptions.
func (r FoldRequest) BuildOptions() wire.BuildOptions {
	return wire.BuildOptions{
		Model:              r.Model,
		DisableWarpTools:   r.DisableWarpTools,
		Tools:              toWireTools(r.Tools),
		MaxHistoryMessages: r.MaxHistoryMessages,
		MaxToolResults:     r.MaxToolResults,
	}
}

package format

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lofyer/warp-multiproxy-go/internal/server/sse"
	"github.com/lofyer/warp-multiproxy-go/internal/stream"
)

// openaiMessage is the wire shape of one entry in an OpenAI chat.completions
// request's "messages" array. Content may be a string or a multimodal parts
// array; only the text parts are kept.
type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// OpenAIRequest is the subset of the chat.completions request body this
// proxy understands.
type OpenAIRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openaiTool    `json:"tools,omitempty"`
}

func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		out := ""
		for i, p := range parts {
			if p.Type != "text" {
				continue
			}
			if i > 0 && out != "" {
				out += "\n"
			}
			out += p.Text
		}
		return out
	}
	return ""
}

// ParseOpenAIRequest normalizes an OpenAI chat.completions request body into
// a FoldRequest.
func ParseOpenAIRequest(body []byte) (FoldRequest, error) {
	var req OpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return FoldRequest{}, fmt.Errorf("format: invalid OpenAI request: %w", err)
	}

	var history []ChatMessage
	for _, m := range req.Messages {
		cm := ChatMessage{Role: m.Role, Content: contentText(m.Content), ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, ToolCallRef{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		history = append(history, cm)
	}

	wireHistory := toWireHistory(history)

	// A run of "tool" messages at the very end of the conversation (no
	// subsequent user text) is the live turn's tool-result follow-up, not
	// settled history; pull it out so the dispatcher can fold it as a
	// separate request per result when split mode is enabled.
	wireHistory, pending := splitPendingToolResults(wireHistory)

	// The live user turn is the last remaining "user" message; everything
	// else folds into history.
	userText := ""
	lastUserIdx := -1
	for i := len(wireHistory) - 1; i >= 0; i-- {
		if wireHistory[i].Role == "user" {
			lastUserIdx = i
			userText = wireHistory[i].Content
			break
		}
	}
	if lastUserIdx >= 0 {
		wireHistory = append(wireHistory[:lastUserIdx], wireHistory[lastUserIdx+1:]...)
	}

	var tools []ToolDef
	for _, t := range req.Tools {
		tools = append(tools, ToolDef{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
	}

	return FoldRequest{
		Model:          req.Model,
		Stream:         req.Stream,
		UserText:       userText,
		Tools:          tools,
		History:        wireHistory,
		PendingResults: pending,
	}, nil
}

// chunkDelta / chunk mirror the OpenAI chat.completion.chunk shape.
type chunkDelta struct {
	Role      string                  `json:"role,omitempty"`
	Content   string                  `json:"content,omitempty"`
	ToolCalls []streamedToolCallDelta `json:"tool_calls,omitempty"`
}

type streamedToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function *struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

// OpenAIStreamer converts decoded upstream events into chat.completion.chunk
// SSE frames.
type OpenAIStreamer struct {
	w            *sse.Writer
	completionID string
	model        string
	created      int64
	roleSent     bool
	toolNames    map[int]string
}

// NewOpenAIStreamer constructs a streamer bound to w for one completion.
func NewOpenAIStreamer(w *sse.Writer, completionID, model string) *OpenAIStreamer {
	return &OpenAIStreamer{w: w, completionID: completionID, model: model, created: time.Now().Unix(), toolNames: map[int]string{}}
}

func (s *OpenAIStreamer) sendRoleChunk() error {
	if s.roleSent {
		return nil
	}
	s.roleSent = true
	return s.w.WriteData(chatCompletionChunk{
		ID: s.completionID, Object: "chat.completion.chunk", Created: s.created, Model: s.model,
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{Role: "assistant"}}},
	})
}

// HandleEvent applies one decoded event, emitting zero or more chunks. The
// bool return reports whether ev was the terminal event for this completion
// (mirrors AnthropicStreamer.HandleEvent so both satisfy dispatcher.EventHandler).
func (s *OpenAIStreamer) HandleEvent(ev *stream.Event) (bool, error) {
	for _, text := range extractText(ev) {
		if text == "" {
			continue
		}
		if err := s.sendRoleChunk(); err != nil {
			return false, err
		}
		if err := s.w.WriteData(chatCompletionChunk{
			ID: s.completionID, Object: "chat.completion.chunk", Created: s.created, Model: s.model,
			Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{Content: text}}},
		}); err != nil {
			return false, err
		}
	}

	for _, a := range ev.Actions {
		if a.ToolCall == nil {
			continue
		}
		if err := s.sendRoleChunk(); err != nil {
			return false, err
		}
		tc := a.ToolCall
		delta := streamedToolCallDelta{Index: tc.Index}
		isFirstFragment := s.toolNames[tc.Index] == ""
		if isFirstFragment && tc.ID != "" {
			delta.ID = tc.ID
			delta.Type = "function"
		}

		name, args := TransformMCPToolCall(tc.Name, tc.Arguments)
		delta.Function = &struct {
			Name      string `json:"name,omitempty"`
			Arguments string `json:"arguments,omitempty"`
		}{Arguments: args}
		if isFirstFragment {
			delta.Function.Name = name
			s.toolNames[tc.Index] = tc.Name
		}
		if err := s.w.WriteData(chatCompletionChunk{
			ID: s.completionID, Object: "chat.completion.chunk", Created: s.created, Model: s.model,
			Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{ToolCalls: []streamedToolCallDelta{delta}}}},
		}); err != nil {
			return false, err
		}
	}

	if ev.Finished != nil {
		reason := finishReason(ev.Finished.Reason, len(s.toolNames) > 0)
		if err := s.w.WriteData(chatCompletionChunk{
			ID: s.completionID, Object: "chat.completion.chunk", Created: s.created, Model: s.model,
			Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{}, FinishReason: &reason}},
		}); err != nil {
			return false, err
		}
		return true, s.w.WriteDone()
	}
	return false, nil
}

func extractText(ev *stream.Event) []string {
	var out []string
	for _, a := range ev.Actions {
		if a.AppendContent != nil && a.AppendContent.AgentOutput.Text != "" {
			out = append(out, a.AppendContent.AgentOutput.Text)
		}
		for _, m := range a.AddMessages {
			if m.AgentOutput.Text != "" {
				out = append(out, m.AgentOutput.Text)
			}
		}
	}
	return out
}

func finishReason(r stream.FinishReason, hadToolCalls bool) string {
	switch {
	case hadToolCalls:
		return "tool_calls"
	case r.MaxTokenLimit:
		return "length"
	default:
		return "stop"
	}
}

// unaryMessage / unaryResponse mirror the non-streaming chat.completion shape.
type unaryMessage struct {
	Role      string                   `json:"role"`
	Content   string                   `json:"content"`
	ToolCalls []openaiResponseToolCall `json:"tool_calls,omitempty"`
}

type openaiResponseToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type unaryChoice struct {
	Index        int          `json:"index"`
	Message      unaryMessage `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIResponse is the full chat.completion JSON body.
type OpenAIResponse struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []unaryChoice `json:"choices"`
	Usage   usage         `json:"usage"`
}

// OpenAICollector accumulates a dispatcher event stream into a single
// unary chat.completion response; its HandleEvent method satisfies
// dispatcher.EventHandler like OpenAIStreamer's.
type OpenAICollector struct {
	completionID string
	model        string
	textParts    []string
	toolCalls    map[int]*openaiResponseToolCall
	order        []int
	finishReason string
	promptTokens int
	replyTokens  int
}

// NewOpenAICollector constructs a collector for one unary completion.
func NewOpenAICollector(completionID, model string) *OpenAICollector {
	return &OpenAICollector{completionID: completionID, model: model, toolCalls: map[int]*openaiResponseToolCall{}, finishReason: "stop"}
}

// HandleEvent accumulates one decoded event; the bool return reports
// whether ev was the terminal event.
func (o *OpenAICollector) HandleEvent(ev *stream.Event) (bool, error) {
	o.textParts = append(o.textParts, extractText(ev)...)

	for _, a := range ev.Actions {
		if a.ToolCall == nil {
			continue
		}
		tc := a.ToolCall
		entry, ok := o.toolCalls[tc.Index]
		if !ok {
			entry = &openaiResponseToolCall{ID: tc.ID, Type: "function"}
			o.toolCalls[tc.Index] = entry
			o.order = append(o.order, tc.Index)
		}
		if tc.ID != "" {
			entry.ID = tc.ID
		}
		entry.Function.Name += tc.Name
		entry.Function.Arguments += tc.Arguments
	}

	if ev.Finished == nil {
		return false, nil
	}
	if len(o.toolCalls) > 0 {
		o.finishReason = "tool_calls"
	} else if ev.Finished.Reason.MaxTokenLimit {
		o.finishReason = "length"
	}
	o.promptTokens += ev.Finished.TokenUsage.PromptTokens
	o.replyTokens += ev.Finished.TokenUsage.CompletionTokens
	return true, nil
}

// Result finalizes the accumulated events into an OpenAIResponse.
func (o *OpenAICollector) Result() *OpenAIResponse {
	msg := unaryMessage{Role: "assistant", Content: joinNonEmpty(o.textParts)}
	for _, idx := range o.order {
		tc := o.toolCalls[idx]
		tc.Function.Name, tc.Function.Arguments = TransformMCPToolCall(tc.Function.Name, tc.Function.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, *tc)
	}

	return &OpenAIResponse{
		ID: o.completionID, Object: "chat.completion", Created: time.Now().Unix(), Model: o.model,
		Choices: []unaryChoice{{Index: 0, Message: msg, FinishReason: o.finishReason}},
		Usage: usage{
			PromptTokens:     o.promptTokens,
			CompletionTokens: o.replyTokens,
			TotalTokens:      o.promptTokens + o.replyTokens,
		},
	}
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

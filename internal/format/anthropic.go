package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lofyer/warp-multiproxy-go/internal/server/sse"
	"github.com/lofyer/warp-multiproxy-go/internal/stream"
	"github.com/lofyer/warp-multiproxy-go/internal/wire"
)

// anthropicMessage is one entry in an Anthropic messages request's
// "messages" array. Content may be a plain string or a block array mixing
// text, tool_use, and tool_result blocks.
type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// AnthropicRequest is the subset of the messages request body this proxy
// understands. System is either a plain string or a block array; both
// shapes are accepted the way Anthropic's own clients send them.
type AnthropicRequest struct {
	Model     string             `json:"model"`
	System    json.RawMessage    `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func toolResultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// anthropicToWireHistory folds an Anthropic messages array into wire
// history: system becomes a leading "user"-folded message (Warp has no
// separate system role), a tool_result block inside a user turn becomes its
// own "tool" role message ahead of that turn's text, and an assistant turn's
// tool_use blocks become ToolCallRef entries folded alongside its text.
func anthropicToWireHistory(system string, messages []anthropicMessage) []wire.Message {
	var out []wire.Message
	if strings.TrimSpace(system) != "" {
		out = append(out, wire.Message{Role: "user", Content: system})
	}

	for _, m := range messages {
		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			out = append(out, wire.Message{Role: m.Role, Content: asString})
			continue
		}

		var blocks []anthropicBlock
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			continue
		}

		switch m.Role {
		case "user":
			var textParts []string
			for _, b := range blocks {
				switch b.Type {
				case "text":
					textParts = append(textParts, b.Text)
				case "tool_result":
					out = append(out, wire.Message{
						Role:       "tool",
						ToolCallID: b.ToolUseID,
						Content:    toolResultText(b.Content),
					})
				}
			}
			if len(textParts) > 0 {
				out = append(out, wire.Message{Role: "user", Content: strings.Join(textParts, "\n")})
			}
		case "assistant":
			var textParts []string
			var calls []wire.ToolCallRef
			for _, b := range blocks {
				switch b.Type {
				case "text":
					textParts = append(textParts, b.Text)
				case "tool_use":
					input := b.Input
					if len(input) == 0 {
						input = json.RawMessage("{}")
					}
					calls = append(calls, wire.ToolCallRef{Name: b.Name, Arguments: string(input)})
				}
			}
			out = append(out, wire.Message{Role: "assistant", Content: strings.Join(textParts, "\n"), ToolCalls: calls})
		}
	}

	return out
}

// ParseAnthropicRequest normalizes a messages request body into a
// FoldRequest, pulling the trailing user turn out as the live query the
// same way ParseOpenAIRequest does.
func ParseAnthropicRequest(body []byte) (FoldRequest, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return FoldRequest{}, fmt.Errorf("format: invalid Anthropic request: %w", err)
	}

	history := anthropicToWireHistory(systemText(req.System), req.Messages)
	history, pending := splitPendingToolResults(history)

	userText := ""
	lastUserIdx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			lastUserIdx = i
			userText = history[i].Content
			break
		}
	}
	if lastUserIdx >= 0 {
		history = append(history[:lastUserIdx], history[lastUserIdx+1:]...)
	}

	var tools []ToolDef
	for _, t := range req.Tools {
		tools = append(tools, ToolDef{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	return FoldRequest{
		Model:          req.Model,
		Stream:         req.Stream,
		UserText:       userText,
		Tools:          tools,
		History:        history,
		PendingResults: pending,
	}, nil
}

func anthropicToolID(id string) string {
	if strings.HasPrefix(id, "toolu_") {
		return id
	}
	return "toolu_" + id
}

// AnthropicStreamer converts decoded upstream events into the
// message_start/content_block_*/message_delta/message_stop SSE sequence.
// Tool call fragments accumulate by index as they arrive, but their content
// blocks are only emitted once the turn finishes: Warp doesn't report a tool
// call's name and id until it has already started streaming arguments, so
// there's nothing displayable to open a block with any earlier.
type AnthropicStreamer struct {
	w              *sse.Writer
	messageID      string
	model          string
	inputTokens    int
	contentStarted bool
	contentIndex   int
	outputTokens   int
	toolCalls      []anthropicToolAccum
	toolIndex      map[int]int // upstream tool index -> position in toolCalls
}

type anthropicToolAccum struct {
	id, name, arguments string
}

// NewAnthropicStreamer constructs a streamer bound to w for one message.
func NewAnthropicStreamer(w *sse.Writer, messageID, model string, inputTokens int) *AnthropicStreamer {
	return &AnthropicStreamer{w: w, messageID: messageID, model: model, inputTokens: inputTokens, toolIndex: map[int]int{}}
}

func (s *AnthropicStreamer) writeEvent(eventType string, data interface{}) error {
	return s.w.WriteEvent(eventType, data)
}

// Start emits message_start; callers must call this before the first
// HandleEvent.
func (s *AnthropicStreamer) Start() error {
	return s.writeEvent("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            s.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": s.inputTokens, "output_tokens": 0},
		},
	})
}

func (s *AnthropicStreamer) startContentBlock() error {
	if s.contentStarted {
		return nil
	}
	s.contentStarted = true
	return s.writeEvent("content_block_start", map[string]interface{}{
		"type": "content_block_start", "index": s.contentIndex,
		"content_block": map[string]interface{}{"type": "text", "text": ""},
	})
}

func (s *AnthropicStreamer) stopContentBlock() error {
	if !s.contentStarted {
		return nil
	}
	s.contentStarted = false
	err := s.writeEvent("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": s.contentIndex})
	s.contentIndex++
	return err
}

func (s *AnthropicStreamer) accumulateToolCall(tc *stream.ToolCall) {
	pos, ok := s.toolIndex[tc.Index]
	if !ok {
		pos = len(s.toolCalls)
		s.toolCalls = append(s.toolCalls, anthropicToolAccum{})
		s.toolIndex[tc.Index] = pos
	}
	if tc.ID != "" {
		s.toolCalls[pos].id = tc.ID
	}
	s.toolCalls[pos].name += tc.Name
	s.toolCalls[pos].arguments += tc.Arguments
}

// HandleEvent applies one decoded event, emitting zero or more SSE frames.
// It returns (done, err): done is true once message_stop has been written.
func (s *AnthropicStreamer) HandleEvent(ev *stream.Event) (bool, error) {
	for _, text := range extractText(ev) {
		if text == "" {
			continue
		}
		if err := s.startContentBlock(); err != nil {
			return false, err
		}
		if err := s.writeEvent("content_block_delta", map[string]interface{}{
			"type": "content_block_delta", "index": s.contentIndex,
			"delta": map[string]interface{}{"type": "text_delta", "text": text},
		}); err != nil {
			return false, err
		}
		s.outputTokens += len(text) / 4
	}

	for _, a := range ev.Actions {
		if a.ToolCall != nil {
			s.accumulateToolCall(a.ToolCall)
		}
	}

	if ev.Finished == nil {
		return false, nil
	}

	if err := s.stopContentBlock(); err != nil {
		return false, err
	}

	for _, tc := range s.toolCalls {
		if tc.id == "" || tc.name == "" {
			continue
		}
		name, arguments := TransformMCPToolCall(tc.name, tc.arguments)
		input := map[string]interface{}{}
		if arguments != "" {
			_ = json.Unmarshal([]byte(arguments), &input)
		}
		id := anthropicToolID(tc.id)
		if err := s.writeEvent("content_block_start", map[string]interface{}{
			"type": "content_block_start", "index": s.contentIndex,
			"content_block": map[string]interface{}{"type": "tool_use", "id": id, "name": name, "input": map[string]interface{}{}},
		}); err != nil {
			return false, err
		}
		partial, _ := json.Marshal(input)
		if err := s.writeEvent("content_block_delta", map[string]interface{}{
			"type": "content_block_delta", "index": s.contentIndex,
			"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": string(partial)},
		}); err != nil {
			return false, err
		}
		if err := s.writeEvent("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": s.contentIndex}); err != nil {
			return false, err
		}
		s.contentIndex++
	}

	stopReason := "end_turn"
	switch {
	case len(s.toolCalls) > 0:
		stopReason = "tool_use"
	case ev.Finished.Reason.MaxTokenLimit:
		stopReason = "max_tokens"
	}

	if err := s.writeEvent("message_delta", map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]interface{}{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]int{"output_tokens": s.outputTokens},
	}); err != nil {
		return true, err
	}
	return true, s.writeEvent("message_stop", map[string]interface{}{"type": "message_stop"})
}

// anthropicContentBlock is one entry in a non-streaming response's content
// array: either {"type":"text","text":...} or a tool_use block.
type anthropicContentBlock struct {
	Type  string      `json:"type"`
	Text  string      `json:"text,omitempty"`
	ID    string      `json:"id,omitempty"`
	Name  string      `json:"name,omitempty"`
	Input interface{} `json:"input,omitempty"`
}

// AnthropicResponse is the full non-streaming messages response body.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Model        string                  `json:"model"`
	Content      []anthropicContentBlock `json:"content"`
	StopReason   string                  `json:"stop_reason"`
	StopSequence interface{}             `json:"stop_sequence"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// AnthropicCollector accumulates a dispatcher event stream into a single
// unary messages response; its HandleEvent method satisfies
// dispatcher.EventHandler exactly like AnthropicStreamer's.
type AnthropicCollector struct {
	messageID    string
	model        string
	inputTokens  int
	textParts    []string
	toolCalls    []anthropicToolAccum
	toolIndex    map[int]int
	outputTokens int
	maxTokens    bool
}

// NewAnthropicCollector constructs a collector for one unary response.
func NewAnthropicCollector(messageID, model string, inputTokens int) *AnthropicCollector {
	return &AnthropicCollector{messageID: messageID, model: model, inputTokens: inputTokens, toolIndex: map[int]int{}}
}

// HandleEvent accumulates one decoded event; the bool return reports
// whether ev was the terminal event.
func (a *AnthropicCollector) HandleEvent(ev *stream.Event) (bool, error) {
	for _, text := range extractText(ev) {
		a.textParts = append(a.textParts, text)
		a.outputTokens += len(text) / 4
	}

	for _, act := range ev.Actions {
		if act.ToolCall == nil {
			continue
		}
		tc := act.ToolCall
		pos, ok := a.toolIndex[tc.Index]
		if !ok {
			pos = len(a.toolCalls)
			a.toolCalls = append(a.toolCalls, anthropicToolAccum{})
			a.toolIndex[tc.Index] = pos
		}
		if tc.ID != "" {
			a.toolCalls[pos].id = tc.ID
		}
		a.toolCalls[pos].name += tc.Name
		a.toolCalls[pos].arguments += tc.Arguments
	}

	if ev.Finished == nil {
		return false, nil
	}
	if ev.Finished.Reason.MaxTokenLimit && len(a.toolCalls) == 0 {
		a.maxTokens = true
	}
	return true, nil
}

// Result finalizes the accumulated events into an AnthropicResponse.
func (a *AnthropicCollector) Result() *AnthropicResponse {
	stopReason := "end_turn"
	if a.maxTokens {
		stopReason = "max_tokens"
	}

	var content []anthropicContentBlock
	if full := strings.Join(a.textParts, ""); full != "" {
		content = append(content, anthropicContentBlock{Type: "text", Text: full})
	}
	for _, tc := range a.toolCalls {
		if tc.id == "" || tc.name == "" {
			continue
		}
		name, arguments := TransformMCPToolCall(tc.name, tc.arguments)
		input := map[string]interface{}{}
		if arguments != "" {
			_ = json.Unmarshal([]byte(arguments), &input)
		}
		content = append(content, anthropicContentBlock{Type: "tool_use", ID: anthropicToolID(tc.id), Name: name, Input: input})
		stopReason = "tool_use"
	}
	if len(content) == 0 {
		content = append(content, anthropicContentBlock{Type: "text", Text: ""})
	}

	resp := &AnthropicResponse{
		ID: a.messageID, Type: "message", Role: "assistant", Model: a.model,
		Content: content, StopReason: stopReason,
	}
	resp.Usage.InputTokens = a.inputTokens
	resp.Usage.OutputTokens = a.outputTokens
	return resp
}

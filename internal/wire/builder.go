package wire

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// defaultMaxHistoryMessages and defaultMaxToolResults are the default
// folding caps: older turns are dropped, not summarized.
const (
	defaultMaxHistoryMessages = 20
	defaultMaxToolResults     = 10
)

// Message is one prior turn in the conversation, already normalized out of
// whichever client wire format the request arrived in.
type Message struct {
	Role       string // "user", "assistant", or "tool"
	Content    string
	ToolCallID string      // set when Role == "tool"
	ToolCalls  []ToolCallRef // set when Role == "assistant" and it invoked tools
}

// ToolCallRef names a tool invocation an assistant turn made, folded into
// the synthetic query text as "Called <name> with args: <arguments>".
type ToolCallRef struct {
	Name      string
	Arguments string
}

// ToolResult is a tool's output pending delivery to the model, either
// interleaved in History as a "tool" message or passed separately as a
// pending result (split_toolcall_result mode builds one request per entry
// in the latter).
type ToolResult struct {
	ToolCallID string
	Content    string
}

// Tool is a client-declared function tool surfaced to the model through
// Request.mcp_context, the call_mcp_tool gateway.
type Tool struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON schema, passed through opaque
}

// BuildOptions carries everything about the request besides the query text
// itself: model selection, tool wiring, and the folding caps.
type BuildOptions struct {
	Model               string
	DisableWarpTools    bool
	Tools               []Tool
	MaxHistoryMessages  int
	MaxToolResults      int
}

func (o BuildOptions) historyCap() int {
	if o.MaxHistoryMessages > 0 {
		return o.MaxHistoryMessages
	}
	return defaultMaxHistoryMessages
}

func (o BuildOptions) toolResultCap() int {
	if o.MaxToolResults > 0 {
		return o.MaxToolResults
	}
	return defaultMaxToolResults
}

// FoldQuery renders conversation history into a single synthetic query:
// "User: ...", "Assistant: ..." (with a trailing "Tool calls: ..." line when
// the turn invoked tools), and "Tool result (<id>): ..." lines, each joined
// by a blank line, with the live user turn and any pending tool results
// appended last. history/extraResults are truncated to the caller's caps,
// keeping the most recent entries.
func FoldQuery(history []Message, extraResults []ToolResult, userText string, opts BuildOptions) string {
	history = tailMessages(history, opts.historyCap())
	extraResults = tailResults(extraResults, opts.toolResultCap())

	var parts []string
	for _, m := range history {
		switch m.Role {
		case "user":
			parts = append(parts, "User: "+m.Content)
		case "assistant":
			if len(m.ToolCalls) > 0 {
				var calls []string
				for _, tc := range m.ToolCalls {
					calls = append(calls, fmt.Sprintf("Called %s with args: %s", tc.Name, tc.Arguments))
				}
				parts = append(parts, fmt.Sprintf("Assistant: %s\nTool calls: %s", m.Content, strings.Join(calls, "; ")))
			} else {
				parts = append(parts, "Assistant: "+m.Content)
			}
		case "tool":
			parts = append(parts, fmt.Sprintf("Tool result (%s): %s", m.ToolCallID, m.Content))
		}
	}

	for _, r := range extraResults {
		parts = append(parts, fmt.Sprintf("Tool result (%s): %s", r.ToolCallID, r.Content))
	}

	switch {
	case strings.TrimSpace(userText) != "":
		parts = append(parts, "User: "+userText)
	case len(extraResults) > 0:
		// Tool results with no accompanying user turn: nudge the model to
		// act on them.
		parts = append(parts, "User: Please analyze the tool results above and provide your response.")
	}

	return strings.Join(parts, "\n\n")
}

func tailMessages(in []Message, max int) []Message {
	if len(in) <= max {
		return in
	}
	return in[len(in)-max:]
}

func tailResults(in []ToolResult, max int) []ToolResult {
	if len(in) <= max {
		return in
	}
	return in[len(in)-max:]
}

// BuildContinuation assembles a schema-driven Request for every mode except
// a from-scratch new conversation: task_context is present but empty (the
// upstream manages task state itself) and metadata.conversation_id is left
// unset, because setting it was observed to make the server return empty
// responses. is_new_conversation on the folded query is always false here;
// continuity comes entirely from folding prior turns into query text.
func BuildContinuation(query string, opts BuildOptions) []byte {
	var req buf
	req = req.message(fieldTaskContext, nil) // 0a 00: present, empty
	req = req.message(fieldInput, buildInput(query, false))
	req = req.message(fieldSettings, buildSettings(opts))
	if mc := buildMcpContext(opts.Tools); len(mc) > 0 {
		req = req.message(fieldMcpContext, mc)
	}
	// metadata deliberately omitted: no conversation_id, no logging block.
	return req.bytes()
}

func buildInput(query string, isNew bool) []byte {
	var in buf
	in = in.message(inputFieldContext, buildContext())
	in = in.message(inputFieldUserQuery, buildUserQuery(query, isNew))
	return in.bytes()
}

func buildContext() []byte {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()

	var dir buf
	dir = dir.str(1, cwd)
	dir = dir.str(2, home)

	var osInfo buf
	osInfo = osInfo.str(1, "MacOS")

	var shell buf
	shell = shell.str(1, "zsh")
	shell = shell.str(2, "5.9")

	now := time.Now()
	var ts buf
	ts = ts.varint(1, uint64(now.Unix()))
	ts = ts.varint(2, uint64(now.Nanosecond()))

	var ctx buf
	ctx = ctx.message(contextFieldDirectory, dir.bytes())
	ctx = ctx.message(contextFieldOperatingSystem, osInfo.bytes())
	ctx = ctx.message(contextFieldShell, shell.bytes())
	ctx = ctx.message(contextFieldCurrentTime, ts.bytes())
	return ctx.bytes()
}

func buildUserQuery(query string, isNew bool) []byte {
	var q buf
	q = q.str(userQueryFieldQuery, query)
	q = q.bytesField(userQueryFieldAttachmentsBytes, nil)
	q = q.boolean(userQueryFieldIsNewConversation, isNew)
	return q.bytes()
}

func buildSettings(opts BuildOptions) []byte {
	var s buf
	base := opts.Model
	if base == "" {
		base = "auto-genius"
	}
	var mc buf
	mc = mc.str(modelConfigFieldBase, base)
	s = s.message(settingsFieldModelConfig, mc.bytes())

	s = s.boolean(settingsFieldRulesEnabled, true)
	s = s.boolean(settingsFieldWebContextRetrievalEnabled, true)
	s = s.boolean(settingsFieldSupportsParallelToolCalls, true)

	if !opts.DisableWarpTools {
		s = s.packedVarints(settingsFieldSupportedTools, SupportedTools)
	}

	s = s.boolean(settingsFieldPlanningEnabled, true)
	s = s.boolean(settingsFieldWarpDriveContextEnabled, true)
	s = s.boolean(settingsFieldSupportsCreateFiles, true)
	s = s.boolean(settingsFieldSupportsLongRunningCommands, true)
	s = s.boolean(settingsField14, true)
	s = s.boolean(settingsField15, true)
	s = s.boolean(settingsField16, true)
	s = s.boolean(settingsFieldShouldPreserveFileContentInHistory, true)
	s = s.boolean(settingsFieldSupportsTodosUI, true)
	s = s.boolean(settingsField21, true)
	s = s.packedVarints(settingsFieldClientSupportedTools, ClientSupportedTools)
	s = s.boolean(settingsFieldSupportsLinkedCodeBlocks, true)

	return s.bytes()
}

func buildMcpContext(tools []Tool) []byte {
	if len(tools) == 0 {
		return nil
	}
	var mc buf
	for _, t := range tools {
		var tb buf
		tb = tb.str(mcpToolFieldName, t.Name)
		tb = tb.str(mcpToolFieldDescription, t.Description)
		tb = tb.bytesField(mcpToolFieldInputSchema, t.InputSchema)
		mc = mc.message(mcpContextFieldTools, tb.bytes())
	}
	return mc.bytes()
}

package wire

const disableToolsPreamble = `IMPORTANT INSTRUCTIONS:
- Do NOT use Warp's built-in tools (like terminal commands, file operations, etc.)
- ONLY use the tools explicitly provided by the client through tool calls
- If you need to perform an action, use the available client tools
- Available client tools will be listed in the tool definitions`

// Build picks the new-conversation template path or the schema-driven
// continuation path: a from-scratch template request only when there is no
// history, no pending tool results, and no task already in flight.
func Build(userText string, history []Message, pendingResults []ToolResult, hasActiveTask bool, opts BuildOptions) []byte {
	if len(history) > 0 || hasActiveTask || len(pendingResults) > 0 {
		query := FoldQuery(history, pendingResults, userText, opts)
		return BuildContinuation(query, opts)
	}

	text := userText
	if opts.DisableWarpTools {
		text = disableToolsPreamble + "\n\n" + userText
	}
	return BuildNewConversation(text)
}

// BuildSplit builds one continuation request per pending tool result
// (split_toolcall_result mode): the caller sends each request in turn,
// threading the task id the previous response's init event reported into
// hasActiveTask/history for the next call. The final request also carries
// the live user turn, if any, so a trailing question after several tool
// calls still reaches the model.
func BuildSplit(userText string, history []Message, pendingResults []ToolResult, opts BuildOptions) [][]byte {
	out := make([][]byte, 0, len(pendingResults))
	for i, r := range pendingResults {
		text := ""
		if i == len(pendingResults)-1 {
			text = userText
		}
		query := FoldQuery(history, []ToolResult{r}, text, opts)
		out = append(out, BuildContinuation(query, opts))
	}
	return out
}

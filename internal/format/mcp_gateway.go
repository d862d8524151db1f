package format

import "encoding/json"

// mcpToolCallName is the sentinel function name Warp emits for any tool
// invocation placed through the MCP gateway: the actual target tool and its
// arguments are nested inside this call's own arguments object.
const mcpToolCallName = "call_mcp_tool"

type mcpCallArgs struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"args"`
}

// TransformMCPToolCall unwraps a call_mcp_tool invocation into the tool call
// a client actually declared, so a client that never heard of the gateway
// sees an ordinary named tool call. Arguments that don't parse, or a call
// under any other name, pass through unchanged.
func TransformMCPToolCall(name, arguments string) (string, string) {
	if name != mcpToolCallName || arguments == "" {
		return name, arguments
	}
	var args mcpCallArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args.Name == "" {
		return name, arguments
	}
	inner := string(args.Arguments)
	if inner == "" {
		inner = "{}"
	}
	return args.Name, inner
}

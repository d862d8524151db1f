package stream

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Init carries the conversation id the upstream assigns a new task; this is
// the real task id, captured once per stream.
type Init struct {
	ConversationID string
}

// Task is the upstream-created task reference inside a CreateTask action.
type Task struct {
	ID string
}

// AgentOutput is the streamed text fragment attached to a task message.
type AgentOutput struct {
	Text string
}

// TaskMessage is one message entry inside AddMessagesToTask or
// AppendToMessageContent.
type TaskMessage struct {
	ID          string
	AgentOutput AgentOutput
}

// ToolCall is a model-requested tool invocation, streamed incrementally:
// Index groups deltas belonging to the same call across events, mirroring
// OpenAI's streaming tool_calls shape.
type ToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Action is one entry in a ClientActions event; exactly one field is set,
// mirroring the upstream's oneof.
type Action struct {
	CreateTask    *Task
	AddMessages   []TaskMessage
	AppendContent *TaskMessage
	ToolCall      *ToolCall
}

// FinishReason reports why the stream ended.
type FinishReason struct {
	MaxTokenLimit bool
	QuotaLimit    bool
}

// TokenUsage is the prompt/completion token counts the upstream reports on
// the terminal event.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Finished is the terminal event of a successful stream.
type Finished struct {
	Reason     FinishReason
	TokenUsage TokenUsage
}

// Event is one decoded ResponseEvent. At most one of Init/Actions/Finished
// is meaningfully populated per frame (Actions may be empty on an init-only
// or finished-only frame). RawPayload is the undecoded protobuf bytes,
// carried through for format adapters that need to re-derive something this
// decode dropped.
type Event struct {
	Init       *Init
	Actions    []Action
	Finished   *Finished
	RawPayload []byte
}

// DecodeEvent parses one length-delimited ResponseEvent payload (already
// base64-decoded by the SSE reader). Unknown fields are skipped rather than
// rejected: the upstream wire format evolves and this proxy only needs the
// fields it actually surfaces to clients.
func DecodeEvent(payload []byte) (*Event, error) {
	ev := &Event{RawPayload: payload}
	rest := payload
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]

		switch num {
		case eventFieldInit:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			init, err := decodeInit(msg)
			if err != nil {
				return nil, err
			}
			ev.Init = init

		case eventFieldClientActions:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			actions, err := decodeClientActions(msg)
			if err != nil {
				return nil, err
			}
			ev.Actions = append(ev.Actions, actions...)

		case eventFieldFinished:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			fin, err := decodeFinished(msg)
			if err != nil {
				return nil, err
			}
			ev.Finished = fin

		default:
			n, err := skipField(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
		}
	}
	return ev, nil
}

func consumeMessage(rest []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("stream: expected length-delimited field, got wire type %v", typ)
	}
	v, n := protowire.ConsumeBytes(rest)
	if n < 0 {
		return nil, 0, fmt.Errorf("stream: truncated message: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func skipField(rest []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, rest)
	if n < 0 {
		return 0, fmt.Errorf("stream: cannot skip field: %w", protowire.ParseError(n))
	}
	return n, nil
}

func decodeInit(data []byte) (*Init, error) {
	in := &Init{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid init tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == initFieldConversationID && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid conversation_id: %w", protowire.ParseError(n))
			}
			in.ConversationID = s
			rest = rest[n:]
			continue
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return in, nil
}

func decodeClientActions(data []byte) ([]Action, error) {
	var actions []Action
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid client_actions tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == clientActionsFieldActions {
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			a, err := decodeAction(msg)
			if err != nil {
				return nil, err
			}
			actions = append(actions, a)
			continue
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return actions, nil
}

func decodeAction(data []byte) (Action, error) {
	var a Action
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return a, fmt.Errorf("stream: invalid action tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]

		switch num {
		case actionFieldCreateTask:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return a, err
			}
			rest = rest[n:]
			task, err := decodeCreateTask(msg)
			if err != nil {
				return a, err
			}
			a.CreateTask = task

		case actionFieldAddMessages:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return a, err
			}
			rest = rest[n:]
			msgs, err := decodeAddMessages(msg)
			if err != nil {
				return a, err
			}
			a.AddMessages = msgs

		case actionFieldAppendContent:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return a, err
			}
			rest = rest[n:]
			tm, err := decodeAppendContent(msg)
			if err != nil {
				return a, err
			}
			a.AppendContent = tm

		case actionFieldToolCall:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return a, err
			}
			rest = rest[n:]
			tc, err := decodeToolCall(msg)
			if err != nil {
				return a, err
			}
			a.ToolCall = tc

		default:
			n, err := skipField(rest, typ)
			if err != nil {
				return a, err
			}
			rest = rest[n:]
		}
	}
	return a, nil
}

func decodeCreateTask(data []byte) (*Task, error) {
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid create_task tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == createTaskFieldTask {
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			return decodeTask(msg)
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return &Task{}, nil
}

func decodeTask(data []byte) (*Task, error) {
	t := &Task{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid task tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == taskFieldID && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid task id: %w", protowire.ParseError(n))
			}
			t.ID = s
			rest = rest[n:]
			continue
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return t, nil
}

func decodeAddMessages(data []byte) ([]TaskMessage, error) {
	var out []TaskMessage
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid add_messages tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == addMessagesFieldMessages {
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			tm, err := decodeTaskMessage(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, *tm)
			continue
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return out, nil
}

func decodeAppendContent(data []byte) (*TaskMessage, error) {
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid append_content tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == appendContentFieldMessage {
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			return decodeTaskMessage(msg)
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return &TaskMessage{}, nil
}

func decodeTaskMessage(data []byte) (*TaskMessage, error) {
	tm := &TaskMessage{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid message tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		switch num {
		case messageFieldID:
			if typ == protowire.BytesType {
				s, n := protowire.ConsumeString(rest)
				if n < 0 {
					return nil, fmt.Errorf("stream: invalid message id: %w", protowire.ParseError(n))
				}
				tm.ID = s
				rest = rest[n:]
				continue
			}
		case messageFieldAgentOutput:
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			ao, err := decodeAgentOutput(msg)
			if err != nil {
				return nil, err
			}
			tm.AgentOutput = *ao
			continue
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return tm, nil
}

func decodeAgentOutput(data []byte) (*AgentOutput, error) {
	ao := &AgentOutput{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid agent_output tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == agentOutputFieldText && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid agent_output text: %w", protowire.ParseError(n))
			}
			ao.Text = s
			rest = rest[n:]
			continue
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return ao, nil
}

func decodeToolCall(data []byte) (*ToolCall, error) {
	tc := &ToolCall{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid tool_call tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		switch {
		case num == toolCallFieldID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid tool_call id: %w", protowire.ParseError(n))
			}
			tc.ID = s
			rest = rest[n:]
		case num == toolCallFieldName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid tool_call name: %w", protowire.ParseError(n))
			}
			tc.Name = s
			rest = rest[n:]
		case num == toolCallFieldArguments && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid tool_call arguments: %w", protowire.ParseError(n))
			}
			tc.Arguments = s
			rest = rest[n:]
		case num == toolCallFieldIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid tool_call index: %w", protowire.ParseError(n))
			}
			tc.Index = int(v)
			rest = rest[n:]
		default:
			n, err := skipField(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
		}
	}
	return tc, nil
}

func decodeFinished(data []byte) (*Finished, error) {
	fin := &Finished{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid finished tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		if num == finishedFieldReason {
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			reason, err := decodeFinishReason(msg)
			if err != nil {
				return nil, err
			}
			fin.Reason = *reason
			continue
		}
		if num == finishedFieldTokenUsage {
			msg, n, err := consumeMessage(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			usage, err := decodeTokenUsage(msg)
			if err != nil {
				return nil, err
			}
			fin.TokenUsage = *usage
			continue
		}
		n, err := skipField(rest, typ)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
	}
	return fin, nil
}

func decodeFinishReason(data []byte) (*FinishReason, error) {
	r := &FinishReason{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid reason tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		switch {
		case num == reasonFieldMaxTokenLimit && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid max_token_limit: %w", protowire.ParseError(n))
			}
			r.MaxTokenLimit = v != 0
			rest = rest[n:]
		case num == reasonFieldQuotaLimit && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid quota_limit: %w", protowire.ParseError(n))
			}
			r.QuotaLimit = v != 0
			rest = rest[n:]
		default:
			n, err := skipField(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
		}
	}
	return r, nil
}

func decodeTokenUsage(data []byte) (*TokenUsage, error) {
	u := &TokenUsage{}
	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("stream: invalid token_usage tag: %w", protowire.ParseError(n))
		}
		rest = rest[n:]
		switch {
		case num == tokenUsageFieldPromptTokens && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid prompt_tokens: %w", protowire.ParseError(n))
			}
			u.PromptTokens = int(v)
			rest = rest[n:]
		case num == tokenUsageFieldCompletionTokens && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return nil, fmt.Errorf("stream: invalid completion_tokens: %w", protowire.ParseError(n))
			}
			u.CompletionTokens = int(v)
			rest = rest[n:]
		default:
			n, err := skipField(rest, typ)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
		}
	}
	return u, nil
}

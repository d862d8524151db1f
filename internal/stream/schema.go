// Package stream decodes the upstream SSE/protobuf response stream:
// line-buffered SSE framing, URL-safe base64, then a length-delimited
// protobuf ResponseEvent normalized into the types below. Field numbers are
// this proxy's own abstraction over the observed action shapes (the upstream
// .proto is out of scope); every event also carries its undecoded bytes so a
// caller can re-derive anything this decode misses.
package stream

// ResponseEvent field numbers.
const (
	eventFieldInit          = 1
	eventFieldClientActions = 2
	eventFieldFinished      = 3
)

// Init field numbers.
const initFieldConversationID = 1

// ClientActions field numbers.
const clientActionsFieldActions = 1

// Action field numbers (one populated per event, oneof-shaped).
const (
	actionFieldCreateTask      = 1
	actionFieldAddMessages     = 2
	actionFieldAppendContent   = 3
	actionFieldToolCall        = 4
)

// CreateTask / Task field numbers.
const (
	createTaskFieldTask = 1
	taskFieldID         = 1
)

// AddMessagesToTask field numbers.
const addMessagesFieldMessages = 1

// AppendToMessageContent field numbers.
const appendContentFieldMessage = 1

// Message field numbers.
const (
	messageFieldID          = 1
	messageFieldAgentOutput = 2
)

// AgentOutput field numbers.
const agentOutputFieldText = 1

// ToolCallAction field numbers.
const (
	toolCallFieldID        = 1
	toolCallFieldName      = 2
	toolCallFieldArguments = 3
	toolCallFieldIndex     = 4
)

// Finished field numbers.
const (
	finishedFieldReason     = 1
	finishedFieldTokenUsage = 2
)

// FinishReason field numbers (bools, at most one set).
const (
	reasonFieldMaxTokenLimit = 1
	reasonFieldQuotaLimit    = 2
)

// TokenUsage field numbers.
const (
	tokenUsageFieldPromptTokens     = 1
	tokenUsageFieldCompletionTokens = 2
)

// Package wire builds the upstream binary request and is the single place
// that knows the abstract Request wire shape. Field numbers below are not
// derived from the upstream .proto; they mirror the shape recovered from
// the verified byte template and are internally consistent for everything
// this proxy sends.
package wire

// Request field numbers.
const (
	fieldTaskContext = 1
	fieldInput       = 2
	fieldSettings    = 3
	fieldMetadata    = 4
)

// Input field numbers (oneof user_query / user_inputs).
const (
	inputFieldContext   = 1
	inputFieldUserQuery = 2
	inputFieldUserInputs = 6
)

// UserQuery field numbers.
const (
	userQueryFieldQuery             = 1
	userQueryFieldAttachmentsBytes  = 3
	userQueryFieldIsNewConversation = 4
)

// InputContext field numbers.
const (
	contextFieldDirectory       = 1
	contextFieldOperatingSystem = 2
	contextFieldShell           = 3
	contextFieldCurrentTime     = 4
)

// Settings field numbers (subset this proxy sets). Several are booleans
// whose upstream name was never recovered, kept as placeholder names
// (field 14, 15, 16, 21) rather than invented ones.
const (
	settingsFieldModelConfig                       = 1
	settingsFieldRulesEnabled                       = 2
	settingsFieldWebContextRetrievalEnabled         = 3
	settingsFieldSupportsParallelToolCalls          = 4
	settingsFieldSupportedTools                     = 9
	settingsFieldPlanningEnabled                    = 10
	settingsFieldWarpDriveContextEnabled            = 11
	settingsFieldSupportsCreateFiles                = 12
	settingsFieldSupportsLongRunningCommands        = 13
	settingsField14                                 = 14
	settingsField15                                 = 15
	settingsField16                                 = 16
	settingsFieldShouldPreserveFileContentInHistory = 17
	settingsFieldSupportsTodosUI                    = 20
	settingsField21                                 = 21
	settingsFieldClientSupportedTools               = 22
	settingsFieldSupportsLinkedCodeBlocks           = 23
)

// ModelConfig field numbers.
const (
	modelConfigFieldBase   = 1
	modelConfigFieldCoding = 2
)

// Metadata field numbers.
const (
	metadataFieldConversationID = 1
	metadataFieldLogging        = 2
)

// McpContext / tool declaration field numbers, nested under Request as a
// standalone top-level message referenced from settings' tool lists by the
// format adapters' tool conversion.
const (
	fieldMcpContext         = 5
	mcpContextFieldTools    = 1
	mcpToolFieldName        = 1
	mcpToolFieldDescription = 2
	mcpToolFieldInputSchema = 3
)

// SupportedTools is the full upstream tool-type code list, recovered from a
// verified live request.
var SupportedTools = []uint64{6, 7, 12, 8, 9, 15, 14, 0, 11, 16, 10, 20, 17, 19, 18, 2, 3, 1, 13}

// ClientSupportedTools includes 9 (CALL_MCP_TOOL) so custom client tools work.
var ClientSupportedTools = []uint64{10, 20, 6, 7, 12, 9, 2, 1}

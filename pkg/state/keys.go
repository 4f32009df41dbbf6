package state

// Engine-owned keys. They are always present in a compiled schema; node
// sinks may not target the node-tracking keys.
const (
	// KeyCurrentNode tracks the node the execution loop is positioned at.
	KeyCurrentNode = "current_node"
	// KeyPreviousNode tracks the last node whose outputs were merged.
	KeyPreviousNode = "previous_node"
	// KeyHumanInput receives externally supplied input before a resume.
	KeyHumanInput = "human_input"
	// KeyEndConversation signals workflow termination when true (bool) or
	// when matching a configured exit phrase (string).
	KeyEndConversation = "end_conversation"
)

// Conventional keys with engine-assisted semantics when declared.
const (
	// KeyMessages and KeyConversation are history keys that human input is
	// appended to (as a user-role entry) when the schema declares them.
	KeyMessages     = "messages"
	KeyConversation = "conversation"

	// KeyExecutionError and KeyExecutionSuccess receive the outcome of
	// Function/Control node failures so the workflow can branch on them.
	KeyExecutionError   = "execution_error"
	KeyExecutionSuccess = "execution_success"

	// KeyRetryCount counts Control node attempts against the retry budget.
	KeyRetryCount = "retry_count"
)

// EngineOwned reports whether node bodies are forbidden from writing key.
func EngineOwned(key string) bool {
	return key == KeyCurrentNode || key == KeyPreviousNode
}

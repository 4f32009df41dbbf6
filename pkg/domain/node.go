package domain

import (
	"context"
	"time"
)

// NodeKind discriminates the node variants. Dispatch is resolved once at
// compile time, never by runtime string matching.
type NodeKind string

const (
	// KindPrompt renders a template and dispatches it to the model capability.
	KindPrompt NodeKind = "prompt"
	// KindFunction invokes an externally bound callable with keyword args.
	KindFunction NodeKind = "function"
	// KindControl runs a registered external executable and captures the
	// outcome, retrying within a configured budget.
	KindControl NodeKind = "control"
)

// SinkFormat controls how a prompt node's raw model response is treated.
type SinkFormat string

const (
	// FormatRaw stores the response text as-is.
	FormatRaw SinkFormat = "raw"
	// FormatJSON parses the response as structured data; parse failure is
	// an OutputFormatError, never a silent coercion.
	FormatJSON SinkFormat = "json"
)

// SourceRef names a state key a node reads, optionally renamed for the
// node body (e.g. "context" <- params_desc).
type SourceRef struct {
	Key string
	// As is the name the node body sees; defaults to Key when empty.
	As string
}

// Name returns the binding name the node body sees.
func (r SourceRef) Name() string {
	if r.As != "" {
		return r.As
	}
	return r.Key
}

// Callable is an externally bound unit of work invoked with keyword
// arguments matching the node's source names. Multiple sinks correspond
// positionally to the returned tuple.
type Callable func(ctx context.Context, kwargs map[string]any) ([]any, error)

// TransformFunc optionally post-processes a prompt node's parsed output.
type TransformFunc func(ctx context.Context, output any) (any, error)

// PromptSpec is the payload of a KindPrompt node.
type PromptSpec struct {
	// Template is the compiled prompt template (literal/placeholder
	// segments resolved by schema-typed lookup).
	Template PromptTemplate
	// ImageKeys names state keys whose values are attached as image
	// payloads to the model call.
	ImageKeys []string
	// Format selects raw or structured output handling.
	Format SinkFormat
	// Transform, when non-nil, runs after parsing and before the merge.
	Transform TransformFunc
}

// PromptTemplate renders a prompt against resolved source values.
// The concrete implementation lives in pkg/prompt; the engine only needs
// rendering and the referenced key set.
type PromptTemplate interface {
	// Render substitutes every placeholder with its typed rendering.
	Render(values map[string]any) (string, error)
	// Keys returns the placeholder names the template references.
	Keys() []string
}

// FunctionSpec is the payload of a KindFunction node.
type FunctionSpec struct {
	// Binding is the registry name the callable was resolved from.
	Binding string
	// Callable is the bound implementation, resolved at compile time.
	Callable Callable
}

// ControlSpec is the payload of a KindControl node.
type ControlSpec struct {
	// Process is the registered name of the external executable.
	Process string
	// Timeout bounds each attempt, not the whole workflow.
	Timeout time.Duration
	// MaxRetries is the retry budget after the initial attempt.
	MaxRetries int
}

// Node is a named unit of work bound into a graph.
// Nodes are stateless across invocations; configuration they depend on is
// itself sourced from the state container.
type Node struct {
	Name   string
	Kind   NodeKind
	Source []SourceRef
	Sink   []string

	// Exactly one of the following is set, matching Kind.
	Prompt   *PromptSpec
	Function *FunctionSpec
	Control  *ControlSpec

	// MaxRetries re-executes the node on recoverable execution errors
	// before escalating. Control nodes use ControlSpec.MaxRetries instead.
	MaxRetries int
}

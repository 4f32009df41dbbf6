package domain

import "github.com/loomlab/loom/pkg/schema"

// Graph is the immutable output of the template compiler: a transition
// table of bound nodes plus the state schema and execution policy.
type Graph struct {
	Name string

	Schema      schema.Schema
	HistoryKeys []string

	Nodes       map[string]*Node
	Transitions map[string]Transition
	Entry       string

	// ExitCommands are phrases that terminate the workflow when matched
	// (case-insensitive substring) against supplied human input or the
	// exit-signal state key.
	ExitCommands []string

	// InterruptBefore is the set of node names execution pauses before,
	// awaiting external input.
	InterruptBefore map[string]struct{}

	// Checkpointer selects the checkpoint backend ("memory", "file",
	// "redis"). Interpreted by the host, not the engine.
	Checkpointer string

	// LLM and VLM are opaque model selector strings for the host.
	LLM string
	VLM string
}

// Next evaluates the transition rule for nodeName against the state.
// It returns the successor node name or End. Evaluation failure is a
// ConditionEvalError and fatal for the step.
func (g *Graph) Next(nodeName string, lookup Lookup) (string, error) {
	t, ok := g.Transitions[nodeName]
	if !ok {
		return "", &ConditionEvalError{
			Node:   nodeName,
			Expr:   "",
			Reason: "no transition rule for node",
		}
	}

	if !t.Conditional() {
		return t.Next, nil
	}

	result, err := t.Condition.Eval(lookup)
	if err != nil {
		return "", &ConditionEvalError{
			Node:   nodeName,
			Expr:   t.Condition.String(),
			Reason: err.Error(),
		}
	}
	if result {
		return t.Then, nil
	}
	return t.Else, nil
}

// Interrupts reports whether execution must pause before nodeName.
func (g *Graph) Interrupts(nodeName string) bool {
	_, ok := g.InterruptBefore[nodeName]
	return ok
}

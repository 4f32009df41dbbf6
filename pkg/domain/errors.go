package domain

import (
	"errors"
	"fmt"
)

// ErrInstanceNotFound is returned when an instance ID cannot be found in
// the checkpoint store.
var ErrInstanceNotFound = errors.New("workflow instance not found")

// UnresolvedBindingError is a compile-time failure: a node references an
// external binding that is not present in the binding table. Compilation
// fails closed; this never surfaces at run time.
type UnresolvedBindingError struct {
	Node    string
	Binding string
}

func (e *UnresolvedBindingError) Error() string {
	return fmt.Sprintf("node %q: unresolved binding %q", e.Node, e.Binding)
}

// OutputFormatError means a prompt node's structured-output parse failed.
// The step fails; the workflow does not guess a default.
type OutputFormatError struct {
	Node   string
	Reason string
	Raw    string
}

func (e *OutputFormatError) Error() string {
	return fmt.Sprintf("node %q: output format error: %s", e.Node, e.Reason)
}

// NodeExecutionError wraps a fault raised by a Function or Control node
// body. It is caught by the execution loop and either retried within the
// node's budget or folded into state so the workflow can branch on it.
type NodeExecutionError struct {
	Node  string
	Cause error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q: execution failed: %s", e.Node, e.Cause.Error())
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// ConditionEvalError means a transition condition could not be evaluated
// (missing key, type error). It is fatal and not retried, since retrying
// would not change a missing key.
type ConditionEvalError struct {
	Node   string
	Expr   string
	Reason string
}

func (e *ConditionEvalError) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("node %q: condition evaluation failed: %s", e.Node, e.Reason)
	}
	return fmt.Sprintf("node %q: condition %q evaluation failed: %s", e.Node, e.Expr, e.Reason)
}

// RetryBudgetExceededError is terminal for the instance: a Control node
// exhausted its retry budget.
type RetryBudgetExceededError struct {
	Node     string
	Attempts int
	Budget   int
}

func (e *RetryBudgetExceededError) Error() string {
	return fmt.Sprintf("node %q: retry budget exceeded after %d attempts (max retries %d)",
		e.Node, e.Attempts, e.Budget)
}

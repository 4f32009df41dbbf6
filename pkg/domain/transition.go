package domain

// End is the reserved terminal marker. It is not a real node; a transition
// targeting End completes the instance.
const End = "END"

// Lookup resolves a state key during condition evaluation.
type Lookup func(key string) (any, error)

// Condition is a compiled boolean expression evaluated read-only against
// the current state. Implementations live in pkg/expr.
type Condition interface {
	Eval(lookup Lookup) (bool, error)
	String() string
}

// Transition is the rule mapping a node to its successor: either an
// unconditional Next, or a Condition selecting between Then and Else.
type Transition struct {
	// Next is the unconditional successor. Empty when conditional.
	Next string

	Condition Condition
	Then      string
	Else      string
}

// Conditional reports whether the transition branches on a condition.
func (t Transition) Conditional() bool { return t.Condition != nil }

// Targets returns every node name (or End) the transition can reach.
func (t Transition) Targets() []string {
	if t.Conditional() {
		return []string{t.Then, t.Else}
	}
	return []string{t.Next}
}

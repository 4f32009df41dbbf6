// Package expr compiles transition conditions into a small, explicit
// expression AST evaluated read-only against the typed state container.
//
// Supported forms: literals ('text', 42, 3.14, true), state key
// references, field access (result["passed"], result.passed, items[0]),
// len(), comparisons (==, !=, <, <=, >, >=, in), and boolean not/and/or.
// There is deliberately no general-purpose evaluator; any failure (missing
// key, type error) surfaces as a precise evaluation error rather than a
// silent false.
package expr

package state

import "fmt"

// UnknownKeyError is returned when a key outside the declared schema is
// read or written.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown state key %q", e.Key)
}

// TypeMismatchError is returned when a write conflicts with the key's
// declared type.
type TypeMismatchError struct {
	Key    string
	Reason string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch for state key %q: %s", e.Key, e.Reason)
}

// SchemaViolationError is returned when initialization or restoration is
// attempted with values that do not fit the declared schema.
type SchemaViolationError struct {
	Err error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("state schema violation: %s", e.Err.Error())
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

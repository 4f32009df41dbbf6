// Package schema provides the typed field system for workflow state.
//
// A workflow declares its state as a map of field names to type names
// ("string", "int", "float", "bool", "dict", "[float]", "[string]",
// "[dict]"). The schema is fixed at compile time; every write into the
// state container is validated against it so that type conflicts surface
// immediately instead of corrupting downstream nodes.
package schema

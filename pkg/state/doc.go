// Package state implements the typed, append-history state container that
// a workflow instance executes against.
package state

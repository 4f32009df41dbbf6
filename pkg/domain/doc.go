// Package domain holds the core workflow vocabulary shared by the
// compiler, the execution loop, and the adapters: node variants, the
// transition table, the compiled graph, checkpoints, statuses, lifecycle
// events, and the error taxonomy.
package domain

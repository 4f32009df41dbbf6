// Package ports defines the boundary interfaces of the engine: the model
// capability, the external process launcher, the checkpoint store, and
// the distributed locker. Adapters implement them; the engine depends
// only on the contracts.
package ports

// Package loom turns a declarative workflow description into a running,
// pausable, resumable state machine.
//
// A workflow is a directed graph of nodes — prompt nodes that render a
// template and call a model, function nodes that invoke bound callables,
// and control nodes that run allow-listed external programs — over a
// typed state container with append-only history keys. Execution is one
// node at a time per instance, checkpointed after every completed step,
// with interrupt gates that suspend the run until a human supplies input.
//
// Typical use:
//
//	reg := registry.New()
//	reg.Register("simulate", simulate)
//
//	wf, err := loom.Load("workflow.yaml",
//		compiler.Options{Bindings: reg},
//		loom.WithModel(client),
//		loom.WithStore(file.NewStore(".loom/checkpoints")),
//	)
//	if err != nil { ... }
//
//	res, _ := wf.Start(ctx, "", map[string]any{"topic": "tomography"})
//	for res.Status == domain.StatusAwaitingInput {
//		res, _ = wf.Resume(ctx, res.InstanceID, readLine())
//	}
package loom

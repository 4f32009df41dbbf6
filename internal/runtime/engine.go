// Package runtime drives a compiled workflow graph as a resumable state
// machine: one node at a time, interrupt gates before designated nodes,
// a checkpoint after every completed step.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loomlab/loom/internal/logging"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/ports"
	"github.com/loomlab/loom/pkg/schema"
	"github.com/loomlab/loom/pkg/state"
)

// Engine executes instances of a single compiled graph.
// It is stateless between calls; everything an instance needs to continue
// lives in its checkpoint.
type Engine struct {
	graph    *domain.Graph
	store    ports.CheckpointStore
	model    ports.ModelClient
	launcher ports.ProcessLauncher
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithModel sets the model client prompt nodes dispatch to.
func WithModel(m ports.ModelClient) Option {
	return func(e *Engine) { e.model = m }
}

// WithLauncher sets the process launcher control nodes use.
func WithLauncher(l ports.ProcessLauncher) Option {
	return func(e *Engine) { e.launcher = l }
}

// WithHooks registers lifecycle callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine for one compiled graph.
func NewEngine(graph *domain.Graph, store ports.CheckpointStore, opts ...Option) *Engine {
	e := &Engine{
		graph:  graph,
		store:  store,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// instance is the in-flight view of one workflow run, rehydrated from a
// checkpoint and written back after every step.
type instance struct {
	id        string
	container *state.Container
	current   string
	step      int64
	status    domain.Status
	lastErr   string
	trail     []string

	// freshInput is set by Resume and consumed by exactly one interrupt
	// gate, per the one-further-step rule.
	freshInput bool
}

// Start initializes a new instance at the entry point and runs it until
// it completes, fails, or suspends awaiting input.
func (e *Engine) Start(ctx context.Context, instanceID string, initial map[string]any) (domain.StepResult, error) {
	container := state.New(e.graph.Schema, e.graph.HistoryKeys)
	if err := container.Init(initial); err != nil {
		return domain.StepResult{}, err
	}
	if err := container.Set(state.KeyCurrentNode, e.graph.Entry); err != nil {
		return domain.StepResult{}, err
	}

	inst := &instance{
		id:        instanceID,
		container: container,
		current:   e.graph.Entry,
		status:    domain.StatusRunning,
	}

	e.logger.Info("workflow instance started",
		"workflow", e.graph.Name, "instance", instanceID, "entry", e.graph.Entry)

	return e.run(ctx, inst)
}

// Resume merges human input into a suspended instance and continues it.
// Resuming a Completed or Failed instance is a no-op that does not
// advance the step counter.
func (e *Engine) Resume(ctx context.Context, instanceID string, humanInput string) (domain.StepResult, error) {
	inst, err := e.load(ctx, instanceID)
	if err != nil {
		return domain.StepResult{}, err
	}

	if inst.status.Terminal() {
		return e.result(inst), nil
	}

	if humanInput != "" {
		if err := e.mergeHumanInput(inst, humanInput); err != nil {
			return domain.StepResult{}, err
		}
		if e.matchesExit(humanInput) {
			inst.status = domain.StatusCompleted
			if err := e.checkpoint(ctx, inst); err != nil {
				return domain.StepResult{}, err
			}
			return e.result(inst), nil
		}
		inst.freshInput = true
	}

	inst.status = domain.StatusRunning
	return e.run(ctx, inst)
}

// Status reports the lifecycle state of an instance.
func (e *Engine) Status(ctx context.Context, instanceID string) (domain.Status, error) {
	cp, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return cp.Status, nil
}

// Inspect returns the last step result of an instance without running it.
func (e *Engine) Inspect(ctx context.Context, instanceID string) (domain.StepResult, error) {
	inst, err := e.load(ctx, instanceID)
	if err != nil {
		return domain.StepResult{}, err
	}
	return e.result(inst), nil
}

// run advances the state machine one node at a time until it reaches a
// terminal status or an interrupt gate.
func (e *Engine) run(ctx context.Context, inst *instance) (domain.StepResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			// Cancelled between steps: the last checkpoint stands and the
			// instance stays resumable.
			return e.result(inst), err
		}

		if inst.status.Terminal() {
			return e.result(inst), nil
		}

		if e.graph.Interrupts(inst.current) && !inst.freshInput {
			inst.status = domain.StatusAwaitingInput
			e.emit(ctx, e.hooks.OnInterrupt, domain.EventInterrupt, inst, 0, "")
			e.logger.Info("instance awaiting input",
				"instance", inst.id, "node", inst.current)
			if err := e.checkpoint(ctx, inst); err != nil {
				return domain.StepResult{}, err
			}
			return e.result(inst), nil
		}
		inst.freshInput = false

		node := e.graph.Nodes[inst.current]
		e.emit(ctx, e.hooks.OnNodeStart, domain.EventNodeStart, inst, 0, "")

		outputs, execErr := e.execute(ctx, inst, node)
		if execErr != nil && ctx.Err() != nil {
			// Cancelled mid-step: nothing was merged, so the error is not
			// folded into state and nothing advances.
			return e.result(inst), ctx.Err()
		}
		if execErr != nil {
			if fatal, contract := e.classify(execErr); fatal {
				return e.fail(ctx, inst, execErr, contract)
			}
			// Recoverable fault: fold into state so the workflow itself can
			// branch on the failure.
			if err := e.foldFailure(inst, execErr); err != nil {
				return e.fail(ctx, inst, err, true)
			}
		} else {
			if err := e.merge(inst, node, outputs); err != nil {
				return e.fail(ctx, inst, err, true)
			}
		}

		if err := inst.container.Set(state.KeyPreviousNode, inst.current); err != nil {
			return e.fail(ctx, inst, err, true)
		}
		inst.step++
		inst.trail = append(inst.trail, inst.current)
		e.emit(ctx, e.hooks.OnNodeFinish, domain.EventNodeFinish, inst, 0, "")

		if e.exitSignaled(inst) {
			inst.status = domain.StatusCompleted
			if err := e.checkpoint(ctx, inst); err != nil {
				return domain.StepResult{}, err
			}
			return e.result(inst), nil
		}

		next, err := e.graph.Next(inst.current, inst.container.Get)
		if err != nil {
			// A condition that cannot evaluate is a spec/data bug; it is
			// never retried and bubbles typed to the caller.
			return e.fail(ctx, inst, err, true)
		}

		if next == domain.End {
			inst.status = domain.StatusCompleted
			if err := e.checkpoint(ctx, inst); err != nil {
				return domain.StepResult{}, err
			}
			return e.result(inst), nil
		}

		inst.current = next
		if err := inst.container.Set(state.KeyCurrentNode, next); err != nil {
			return e.fail(ctx, inst, err, true)
		}
		if err := e.checkpoint(ctx, inst); err != nil {
			return domain.StepResult{}, err
		}
	}
}

// classify splits execution errors into fatal ones and faults the
// workflow may branch on. The second return marks state-contract and
// infrastructure errors that must also bubble to the caller.
func (e *Engine) classify(err error) (fatal bool, contract bool) {
	var ofe *domain.OutputFormatError
	var rbe *domain.RetryBudgetExceededError
	var nee *domain.NodeExecutionError

	switch {
	case errors.As(err, &ofe), errors.As(err, &rbe):
		return true, false
	case errors.As(err, &nee):
		// Prompt model faults are infrastructural; Function faults fold
		// into state. The executor tags the distinction via Unwrap.
		if errors.Is(err, errModelCall) {
			return true, true
		}
		return false, false
	default:
		return true, true
	}
}

// fail records a terminal failure. Contract errors additionally bubble
// to the caller unmodified; workflow-level failures stay queryable on
// the checkpoint only.
func (e *Engine) fail(ctx context.Context, inst *instance, cause error, contract bool) (domain.StepResult, error) {
	inst.status = domain.StatusFailed
	inst.lastErr = cause.Error()
	e.logger.Error("workflow instance failed",
		"instance", inst.id, "node", inst.current, "error", cause)

	if err := e.checkpoint(ctx, inst); err != nil {
		return domain.StepResult{}, err
	}
	if contract {
		return e.result(inst), cause
	}
	return e.result(inst), nil
}

// foldFailure records a recoverable node fault in the execution outcome
// keys instead of terminating the instance.
func (e *Engine) foldFailure(inst *instance, cause error) error {
	if err := inst.container.Set(state.KeyExecutionSuccess, false); err != nil {
		return err
	}
	return inst.container.Set(state.KeyExecutionError, cause.Error())
}

// merge applies a node's outputs to its declared sinks, positionally for
// multiple sinks.
func (e *Engine) merge(inst *instance, node *domain.Node, outputs []any) error {
	if len(node.Sink) > 0 {
		if len(outputs) != len(node.Sink) {
			return &domain.NodeExecutionError{
				Node: node.Name,
				Cause: fmt.Errorf("output arity mismatch: %d values for %d sinks",
					len(outputs), len(node.Sink)),
			}
		}
		for i, key := range node.Sink {
			if err := inst.container.Set(key, outputs[i]); err != nil {
				return err
			}
		}
	}

	if node.Kind == domain.KindFunction || node.Kind == domain.KindControl {
		if err := inst.container.Set(state.KeyExecutionSuccess, true); err != nil {
			return err
		}
		if err := inst.container.Set(state.KeyExecutionError, ""); err != nil {
			return err
		}
	}
	return nil
}

// exitSignaled checks the exit-signal key after a merge: a true boolean,
// or a string matching a configured exit phrase, completes the instance.
func (e *Engine) exitSignaled(inst *instance) bool {
	val, err := inst.container.Get(state.KeyEndConversation)
	if err != nil {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return e.matchesExit(v)
	}
	return false
}

// matchesExit reports whether input matches a configured exit phrase,
// case-insensitively and by substring.
func (e *Engine) matchesExit(input string) bool {
	lowered := strings.ToLower(input)
	for _, phrase := range e.graph.ExitCommands {
		if phrase == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// mergeHumanInput writes the supplied input to the human_input key and
// appends it to the conversation history keys the schema declares.
func (e *Engine) mergeHumanInput(inst *instance, input string) error {
	if err := inst.container.Set(state.KeyHumanInput, input); err != nil {
		return err
	}

	for _, key := range []string{state.KeyMessages, state.KeyConversation} {
		if !inst.container.Has(key) || !inst.container.IsHistoryKey(key) {
			continue
		}
		typ, _ := inst.container.Schema()[key].(*schema.SliceType)
		if typ == nil {
			continue
		}
		var entry any
		if typ.Elem().Name() == "dict" {
			entry = map[string]any{"role": "user", "content": input}
		} else {
			entry = input
		}
		if err := inst.container.Set(key, entry); err != nil {
			return err
		}
	}
	return nil
}

// load rehydrates an instance from its most recent checkpoint.
func (e *Engine) load(ctx context.Context, instanceID string) (*instance, error) {
	cp, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	container := state.New(e.graph.Schema, e.graph.HistoryKeys)
	if err := container.Restore(cp.Values); err != nil {
		return nil, err
	}

	return &instance{
		id:        cp.InstanceID,
		container: container,
		current:   cp.CurrentNode,
		step:      cp.Step,
		status:    cp.Status,
		lastErr:   cp.Error,
		trail:     cp.Trail,
	}, nil
}

// checkpoint persists the instance after a completed step, never
// mid-step, so resumption never re-executes merged work.
func (e *Engine) checkpoint(ctx context.Context, inst *instance) error {
	cp := &domain.Checkpoint{
		InstanceID:  inst.id,
		Values:      inst.container.Snapshot(),
		CurrentNode: inst.current,
		Step:        inst.step,
		Status:      inst.status,
		Trail:       inst.trail,
		Error:       inst.lastErr,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := e.store.Put(ctx, cp); err != nil {
		return fmt.Errorf("failed to checkpoint instance %s: %w", inst.id, err)
	}
	e.emit(ctx, e.hooks.OnCheckpoint, domain.EventCheckpoint, inst, 0, "")
	return nil
}

func (e *Engine) result(inst *instance) domain.StepResult {
	res := domain.StepResult{
		InstanceID: inst.id,
		Status:     inst.status,
		Step:       inst.step,
		State:      inst.container.Snapshot(),
		Error:      inst.lastErr,
	}
	if inst.status == domain.StatusAwaitingInput {
		res.AwaitingNode = inst.current
	}
	return res
}

func (e *Engine) emit(ctx context.Context, hook func(context.Context, *domain.NodeEvent), typ domain.EventType, inst *instance, attempt int, errText string) {
	if hook == nil {
		return
	}
	var kind domain.NodeKind
	if node, ok := e.graph.Nodes[inst.current]; ok {
		kind = node.Kind
	}
	hook(ctx, &domain.NodeEvent{
		Timestamp:  time.Now().UTC(),
		Type:       typ,
		InstanceID: inst.id,
		Node:       inst.current,
		Kind:       kind,
		Step:       inst.step,
		Attempt:    attempt,
		Err:        errText,
	})
}

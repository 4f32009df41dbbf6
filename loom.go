package loom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomlab/loom/internal/logging"
	"github.com/loomlab/loom/internal/runtime"
	"github.com/loomlab/loom/pkg/adapters/memory"
	"github.com/loomlab/loom/pkg/compiler"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/instance"
	"github.com/loomlab/loom/pkg/observability"
	"github.com/loomlab/loom/pkg/ports"
)

// Version is the library version, overridable at build time via ldflags.
var Version = "0.1.0-dev"

// ErrInstanceExists is returned by Start when the instance id already
// has a checkpoint. Use Resume to continue it, or Delete it first.
var ErrInstanceExists = errors.New("workflow instance already exists")

// Workflow is the high-level entry point: a compiled graph bound to a
// checkpoint store, ready to run instances.
type Workflow struct {
	graph   *domain.Graph
	engine  *runtime.Engine
	manager *instance.Manager
	store   ports.CheckpointStore

	model    ports.ModelClient
	launcher ports.ProcessLauncher
	locker   ports.DistributedLocker
	hooks    []domain.LifecycleHooks
	logger   *slog.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithStore sets the checkpoint backend. Defaults to an in-memory store.
func WithStore(store ports.CheckpointStore) Option {
	return func(w *Workflow) { w.store = store }
}

// WithModel sets the model client prompt nodes dispatch to.
func WithModel(model ports.ModelClient) Option {
	return func(w *Workflow) { w.model = model }
}

// WithLauncher sets the process launcher control nodes use.
func WithLauncher(launcher ports.ProcessLauncher) Option {
	return func(w *Workflow) { w.launcher = launcher }
}

// WithLocker enables distributed locking across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(w *Workflow) { w.locker = locker }
}

// WithLifecycleHooks registers observability hooks. May be given more
// than once; all hook sets receive every event.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(w *Workflow) { w.hooks = append(w.hooks, hooks) }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

// New binds a compiled graph to its runtime dependencies.
func New(graph *domain.Graph, opts ...Option) (*Workflow, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph is required")
	}

	w := &Workflow{graph: graph}
	for _, opt := range opts {
		opt(w)
	}

	if w.store == nil {
		w.store = memory.NewStore()
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	w.logger = w.logger.With("workflow", graph.Name)

	managerOpts := []instance.Option{instance.WithLogger(w.logger)}
	if w.locker != nil {
		managerOpts = append(managerOpts, instance.WithLocker(w.locker))
	}
	w.manager = instance.NewManager(w.store, managerOpts...)

	engineOpts := []runtime.Option{
		runtime.WithLogger(w.logger),
		runtime.WithHooks(observability.Combine(w.hooks...)),
	}
	if w.model != nil {
		engineOpts = append(engineOpts, runtime.WithModel(w.model))
	}
	if w.launcher != nil {
		engineOpts = append(engineOpts, runtime.WithLauncher(w.launcher))
	}
	w.engine = runtime.NewEngine(graph, w.store, engineOpts...)

	return w, nil
}

// Load compiles a workflow document from disk and binds it in one step.
func Load(path string, compileOpts compiler.Options, opts ...Option) (*Workflow, error) {
	graph, err := compiler.CompileFile(path, compileOpts)
	if err != nil {
		return nil, err
	}
	return New(graph, opts...)
}

// Graph returns the compiled graph.
func (w *Workflow) Graph() *domain.Graph { return w.graph }

// Start initializes a new instance and runs it until it completes,
// fails, or suspends awaiting input. An empty instanceID generates one;
// the assigned id is in the returned StepResult.
func (w *Workflow) Start(ctx context.Context, instanceID string, initial map[string]any) (domain.StepResult, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	var res domain.StepResult
	err := w.manager.WithLock(ctx, instanceID, func(ctx context.Context) error {
		if _, err := w.store.Get(ctx, instanceID); err == nil {
			return fmt.Errorf("%w: %s", ErrInstanceExists, instanceID)
		} else if !errors.Is(err, domain.ErrInstanceNotFound) {
			return err
		}

		var err error
		res, err = w.engine.Start(ctx, instanceID, initial)
		return err
	})
	return res, err
}

// Resume merges human input into a suspended instance and continues it.
func (w *Workflow) Resume(ctx context.Context, instanceID string, humanInput string) (domain.StepResult, error) {
	var res domain.StepResult
	err := w.manager.WithLock(ctx, instanceID, func(ctx context.Context) error {
		var err error
		res, err = w.engine.Resume(ctx, instanceID, humanInput)
		return err
	})
	return res, err
}

// Status reports the lifecycle state of an instance.
func (w *Workflow) Status(ctx context.Context, instanceID string) (domain.Status, error) {
	return w.engine.Status(ctx, instanceID)
}

// Inspect returns the last step result of an instance without running it.
func (w *Workflow) Inspect(ctx context.Context, instanceID string) (domain.StepResult, error) {
	return w.engine.Inspect(ctx, instanceID)
}

// History returns the ordered list of nodes an instance has executed.
func (w *Workflow) History(ctx context.Context, instanceID string) ([]string, error) {
	cp, err := w.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return cp.Trail, nil
}

// List returns the known instance ids.
func (w *Workflow) List(ctx context.Context) ([]string, error) {
	return w.manager.List(ctx)
}

// Delete removes an instance's checkpoint.
func (w *Workflow) Delete(ctx context.Context, instanceID string) error {
	return w.manager.Delete(ctx, instanceID)
}

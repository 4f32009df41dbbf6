package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/ports"
	"github.com/loomlab/loom/pkg/state"
)

// errModelCall tags a model invocation fault so the loop treats it as
// infrastructural rather than a workflow-visible node fault.
var errModelCall = errors.New("model invocation failed")

// execute runs one node and returns its outputs in sink order.
func (e *Engine) execute(ctx context.Context, inst *instance, node *domain.Node) ([]any, error) {
	switch node.Kind {
	case domain.KindPrompt:
		return e.executePrompt(ctx, inst, node)
	case domain.KindFunction:
		return e.executeFunction(ctx, inst, node)
	case domain.KindControl:
		return e.executeControl(ctx, inst, node)
	default:
		return nil, fmt.Errorf("node %q: unknown kind %q", node.Name, node.Kind)
	}
}

// resolveSources reads the node's declared source keys, applying renames.
func (e *Engine) resolveSources(inst *instance, node *domain.Node) (map[string]any, error) {
	values := make(map[string]any, len(node.Source))
	for _, ref := range node.Source {
		val, err := inst.container.Get(ref.Key)
		if err != nil {
			return nil, err
		}
		values[ref.Name()] = val
	}
	return values, nil
}

func (e *Engine) executePrompt(ctx context.Context, inst *instance, node *domain.Node) ([]any, error) {
	if e.model == nil {
		return nil, fmt.Errorf("node %q: no model client configured", node.Name)
	}

	values, err := e.resolveSources(inst, node)
	if err != nil {
		return nil, err
	}

	rendered, err := node.Prompt.Template.Render(values)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", node.Name, err)
	}

	var images []ports.ImagePayload
	for _, key := range node.Prompt.ImageKeys {
		val, err := inst.container.Get(key)
		if err != nil {
			return nil, err
		}
		if ref, ok := val.(string); ok && ref != "" {
			images = append(images, ports.ImagePayload{Key: key, Ref: ref})
		}
	}

	var raw string
	attempts := node.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		raw, err = e.model.Invoke(ctx, rendered, images)
		if err == nil {
			break
		}
		if attempt >= attempts || ctx.Err() != nil {
			return nil, &domain.NodeExecutionError{
				Node:  node.Name,
				Cause: fmt.Errorf("%w: %v", errModelCall, err),
			}
		}
		e.emit(ctx, e.hooks.OnNodeRetry, domain.EventNodeRetry, inst, attempt, err.Error())
		e.logger.Warn("model call failed, retrying",
			"instance", inst.id, "node", node.Name, "attempt", attempt, "error", err)
	}

	var output any = raw
	if node.Prompt.Format == domain.FormatJSON {
		output, err = parseStructured(node.Name, raw)
		if err != nil {
			return nil, err
		}
	}

	if node.Prompt.Transform != nil {
		output, err = node.Prompt.Transform(ctx, output)
		if err != nil {
			return nil, &domain.NodeExecutionError{Node: node.Name, Cause: err}
		}
	}

	return spread(node, output)
}

// parseStructured parses a model response declared sink_format json.
// Responses wrapped in markdown code fences are unwrapped first; anything
// that still fails to parse is an OutputFormatError, never a coercion.
func parseStructured(nodeName, raw string) (any, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, &domain.OutputFormatError{
			Node:   nodeName,
			Reason: err.Error(),
			Raw:    raw,
		}
	}
	return parsed, nil
}

func (e *Engine) executeFunction(ctx context.Context, inst *instance, node *domain.Node) ([]any, error) {
	kwargs, err := e.resolveSources(inst, node)
	if err != nil {
		return nil, err
	}

	attempts := node.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		outputs, err := node.Function.Callable(ctx, kwargs)
		if err == nil {
			return outputs, nil
		}
		if attempt >= attempts || ctx.Err() != nil {
			return nil, &domain.NodeExecutionError{Node: node.Name, Cause: err}
		}
		e.emit(ctx, e.hooks.OnNodeRetry, domain.EventNodeRetry, inst, attempt, err.Error())
		e.logger.Warn("function node failed, retrying",
			"instance", inst.id, "node", node.Name,
			"binding", node.Function.Binding, "attempt", attempt, "error", err)
	}
}

func (e *Engine) executeControl(ctx context.Context, inst *instance, node *domain.Node) ([]any, error) {
	if e.launcher == nil {
		return nil, fmt.Errorf("node %q: no process launcher configured", node.Name)
	}

	params, err := e.resolveSources(inst, node)
	if err != nil {
		return nil, err
	}

	spec := node.Control
	attempts := spec.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if spec.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		}

		res, err := e.launcher.Launch(attemptCtx, spec.Process, params)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", node.Name, err)
		}

		if res.Success {
			full := []any{res.ArtifactPath, res.ErrorText, res.Success}
			return full[:len(node.Sink)], nil
		}

		if err := e.bumpRetryCount(inst); err != nil {
			return nil, err
		}
		if parentErr := ctx.Err(); parentErr != nil {
			return nil, &domain.NodeExecutionError{Node: node.Name, Cause: parentErr}
		}

		e.emit(ctx, e.hooks.OnNodeRetry, domain.EventNodeRetry, inst, attempt, res.ErrorText)
		e.logger.Warn("control node attempt failed",
			"instance", inst.id, "node", node.Name,
			"process", spec.Process, "attempt", attempt, "error", res.ErrorText)
	}

	return nil, &domain.RetryBudgetExceededError{
		Node:     node.Name,
		Attempts: attempts,
		Budget:   spec.MaxRetries,
	}
}

// bumpRetryCount increments the retry counter state key so conditions
// can branch on accumulated failures.
func (e *Engine) bumpRetryCount(inst *instance) error {
	val, err := inst.container.Get(state.KeyRetryCount)
	if err != nil {
		return err
	}
	count := 0
	switch v := val.(type) {
	case int:
		count = v
	case int64:
		count = int(v)
	case float64:
		count = int(v)
	}
	return inst.container.Set(state.KeyRetryCount, count+1)
}

// spread matches a single node output to the declared sink arity: a
// multi-sink node expects a positional tuple.
func spread(node *domain.Node, output any) ([]any, error) {
	if len(node.Sink) <= 1 {
		return []any{output}, nil
	}
	tuple, ok := output.([]any)
	if !ok || len(tuple) != len(node.Sink) {
		return nil, &domain.OutputFormatError{
			Node:   node.Name,
			Reason: fmt.Sprintf("expected a %d-element tuple for %d sinks", len(node.Sink), len(node.Sink)),
		}
	}
	return tuple, nil
}

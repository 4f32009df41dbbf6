// Package compiler turns a declarative workflow document into a bound,
// immutable graph. All references — state keys, transition targets,
// callable bindings, process names, ${var} tokens — are resolved here,
// so an invalid workflow fails at compile time, never mid-run.
package compiler

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/loomlab/loom/internal/logging"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/expr"
	"github.com/loomlab/loom/pkg/ports"
	"github.com/loomlab/loom/pkg/prompt"
	"github.com/loomlab/loom/pkg/registry"
	"github.com/loomlab/loom/pkg/schema"
	"github.com/loomlab/loom/pkg/state"
)

// Options carries the external bindings a document compiles against.
type Options struct {
	// Bindings resolves function and transform references.
	Bindings *registry.Registry
	// Processes validates control node process names.
	Processes ports.ProcessLauncher
	// Variables resolves ${var} tokens in node bodies.
	Variables map[string]string

	// AssumeBound accepts unresolved callable, transform, and process
	// references instead of failing. Used by lint-style tooling that
	// validates documents without the host's binding table; an engine
	// must never run a graph compiled this way.
	AssumeBound bool

	Logger *slog.Logger
}

// CompileFile reads and compiles a workflow document from disk.
func CompileFile(path string, opts Options) (*domain.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return Compile(data, opts)
}

// Compile parses, validates, and binds a workflow document.
func Compile(data []byte, opts Options) (*domain.Graph, error) {
	if opts.Bindings == nil {
		opts.Bindings = registry.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}

	if doc.Name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("workflow %q declares no nodes", doc.Name)
	}
	if doc.EntryPoint == "" {
		return nil, fmt.Errorf("workflow %q has no entry_point", doc.Name)
	}
	if _, ok := doc.Nodes[doc.EntryPoint]; !ok {
		return nil, fmt.Errorf("entry_point %q is not a declared node", doc.EntryPoint)
	}

	sch, err := buildSchema(doc.StateDefs)
	if err != nil {
		return nil, err
	}
	if err := validateHistoryKeys(sch, doc.HistoryKeys); err != nil {
		return nil, err
	}

	g := &domain.Graph{
		Name:            doc.Name,
		Schema:          sch,
		HistoryKeys:     doc.HistoryKeys,
		Nodes:           make(map[string]*domain.Node, len(doc.Nodes)),
		Transitions:     make(map[string]domain.Transition, len(doc.Nodes)),
		Entry:           doc.EntryPoint,
		ExitCommands:    doc.ExitCommands,
		InterruptBefore: make(map[string]struct{}, len(doc.InterveneBefore)),
		Checkpointer:    doc.Checkpointer,
		LLM:             doc.LLM,
		VLM:             doc.VLM,
	}

	for _, name := range doc.InterveneBefore {
		if _, ok := doc.Nodes[name]; !ok {
			return nil, fmt.Errorf("intervene_before references unknown node %q", name)
		}
		g.InterruptBefore[name] = struct{}{}
	}

	for name, body := range doc.Nodes {
		spec, err := decodeNode(name, body)
		if err != nil {
			return nil, err
		}

		node, err := buildNode(name, spec, g.Schema, opts)
		if err != nil {
			return nil, err
		}
		g.Nodes[name] = node

		tr, err := buildTransition(name, spec.Next, doc.Nodes)
		if err != nil {
			return nil, err
		}
		g.Transitions[name] = tr
	}

	warnUnreachable(g, opts.Logger)
	return g, nil
}

// buildSchema parses state_defs and injects the engine-owned keys every
// compiled workflow carries.
func buildSchema(defs []map[string]string) (schema.Schema, error) {
	sch := make(schema.Schema, len(defs)+8)
	for _, def := range defs {
		for key, typeStr := range def {
			if _, dup := sch[key]; dup {
				return nil, fmt.Errorf("state key %q declared twice", key)
			}
			typ, err := schema.ParseType(typeStr)
			if err != nil {
				return nil, fmt.Errorf("state key %q: %w", key, err)
			}
			sch[key] = typ
		}
	}

	engine := map[string]schema.Type{
		state.KeyCurrentNode:      schema.String(),
		state.KeyPreviousNode:     schema.String(),
		state.KeyHumanInput:       schema.String(),
		state.KeyEndConversation:  schema.Bool(),
		state.KeyRetryCount:       schema.Int(),
		state.KeyExecutionError:   schema.String(),
		state.KeyExecutionSuccess: schema.Bool(),
	}
	for key, typ := range engine {
		if _, declared := sch[key]; !declared {
			sch[key] = typ
		}
	}
	return sch, nil
}

func validateHistoryKeys(sch schema.Schema, keys []string) error {
	for _, key := range keys {
		typ, ok := sch[key]
		if !ok {
			return fmt.Errorf("history key %q is not declared in state_defs", key)
		}
		if _, isSlice := typ.(*schema.SliceType); !isSlice {
			return fmt.Errorf("history key %q must have a list type, got %s", key, typ.Name())
		}
	}
	return nil
}

func decodeNode(name string, body map[string]any) (*NodeSpec, error) {
	var spec NodeSpec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &spec,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(body); err != nil {
		return nil, fmt.Errorf("node %q: %w", name, err)
	}
	return &spec, nil
}

func buildNode(name string, spec *NodeSpec, sch schema.Schema, opts Options) (*domain.Node, error) {
	sinks, err := decodeSinks(name, spec.Sink, sch)
	if err != nil {
		return nil, err
	}

	node := &domain.Node{
		Name:       name,
		Sink:       sinks,
		MaxRetries: spec.MaxRetries,
	}

	switch spec.Type {
	case "prompt", "":
		node.Kind = domain.KindPrompt
		if err := bindPrompt(node, spec, sch, opts); err != nil {
			return nil, err
		}
	case "function":
		node.Kind = domain.KindFunction
		if err := bindFunction(node, spec, sch, opts); err != nil {
			return nil, err
		}
	case "control":
		node.Kind = domain.KindControl
		if err := bindControl(node, spec, opts); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("node %q: unknown type %q", name, spec.Type)
	}

	return node, nil
}

func bindPrompt(node *domain.Node, spec *NodeSpec, sch schema.Schema, opts Options) error {
	if spec.Template == "" {
		return fmt.Errorf("node %q: prompt nodes require a template", node.Name)
	}
	if len(node.Sink) == 0 {
		return fmt.Errorf("node %q: prompt nodes require a sink", node.Name)
	}

	text, err := interpolate(spec.Template, opts.Variables)
	if err != nil {
		return &domain.UnresolvedBindingError{Node: node.Name, Binding: err.Error()}
	}

	tmpl, err := prompt.Parse(text)
	if err != nil {
		return fmt.Errorf("node %q: %w", node.Name, err)
	}

	source, err := decodeSources(node.Name, spec.Source, sch)
	if err != nil {
		return err
	}
	if len(source) == 0 {
		// Sources default to the template's placeholder keys.
		for _, key := range tmpl.Keys() {
			if _, ok := sch[key]; !ok {
				return fmt.Errorf("node %q: template references undeclared key %q", node.Name, key)
			}
			source = append(source, domain.SourceRef{Key: key})
		}
	} else {
		names := make(map[string]struct{}, len(source))
		for _, ref := range source {
			names[ref.Name()] = struct{}{}
		}
		for _, key := range tmpl.Keys() {
			if _, ok := names[key]; !ok {
				return fmt.Errorf("node %q: template placeholder %q is not a declared source", node.Name, key)
			}
		}
	}
	node.Source = source

	format := domain.SinkFormat(spec.SinkFormat)
	switch format {
	case "":
		format = domain.FormatRaw
	case domain.FormatRaw, domain.FormatJSON:
	default:
		return fmt.Errorf("node %q: unknown sink_format %q", node.Name, spec.SinkFormat)
	}

	for _, key := range spec.ImageKeys {
		if _, ok := sch[key]; !ok {
			return fmt.Errorf("node %q: image key %q is not declared", node.Name, key)
		}
	}

	ps := &domain.PromptSpec{
		Template:  tmpl,
		ImageKeys: spec.ImageKeys,
		Format:    format,
	}

	if spec.Transform != "" {
		ref := bindingName(spec.Transform)
		fn, ok := opts.Bindings.Transform(ref)
		if !ok && !opts.AssumeBound {
			return &domain.UnresolvedBindingError{Node: node.Name, Binding: ref}
		}
		ps.Transform = fn
	}

	node.Prompt = ps
	return nil
}

func bindFunction(node *domain.Node, spec *NodeSpec, sch schema.Schema, opts Options) error {
	if spec.Function == "" {
		return fmt.Errorf("node %q: function nodes require a function binding", node.Name)
	}
	if len(node.Sink) == 0 {
		return fmt.Errorf("node %q: function nodes require a sink", node.Name)
	}

	ref := bindingName(spec.Function)
	fn, ok := opts.Bindings.Callable(ref)
	if !ok && !opts.AssumeBound {
		return &domain.UnresolvedBindingError{Node: node.Name, Binding: ref}
	}

	source, err := decodeSources(node.Name, spec.Source, sch)
	if err != nil {
		return err
	}

	node.Source = source
	node.Function = &domain.FunctionSpec{
		Binding:  ref,
		Callable: fn,
	}
	return nil
}

func bindControl(node *domain.Node, spec *NodeSpec, opts Options) error {
	if spec.Process == "" {
		return fmt.Errorf("node %q: control nodes require a process", node.Name)
	}

	ref := bindingName(spec.Process)
	if (opts.Processes == nil || !opts.Processes.Known(ref)) && !opts.AssumeBound {
		return &domain.UnresolvedBindingError{Node: node.Name, Binding: ref}
	}

	var timeout time.Duration
	if spec.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(spec.Timeout)
		if err != nil {
			return fmt.Errorf("node %q: invalid timeout: %w", node.Name, err)
		}
	}

	node.Control = &domain.ControlSpec{
		Process:    ref,
		Timeout:    timeout,
		MaxRetries: spec.MaxRetries,
	}
	return nil
}

func decodeSources(name string, raw []any, sch schema.Schema) ([]domain.SourceRef, error) {
	refs := make([]domain.SourceRef, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			refs = append(refs, domain.SourceRef{Key: v})
		case map[string]any:
			if len(v) != 1 {
				return nil, fmt.Errorf("node %q: source rename must have exactly one entry", name)
			}
			for as, keyVal := range v {
				key, ok := keyVal.(string)
				if !ok {
					return nil, fmt.Errorf("node %q: source rename %q must map to a key name", name, as)
				}
				refs = append(refs, domain.SourceRef{Key: key, As: as})
			}
		default:
			return nil, fmt.Errorf("node %q: invalid source entry %v", name, entry)
		}
	}

	for _, ref := range refs {
		if _, ok := sch[ref.Key]; !ok {
			return nil, fmt.Errorf("node %q: source key %q is not declared", name, ref.Key)
		}
	}
	return refs, nil
}

func decodeSinks(name string, raw any, sch schema.Schema) ([]string, error) {
	var sinks []string
	switch v := raw.(type) {
	case nil:
	case string:
		sinks = []string{v}
	case []any:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("node %q: invalid sink entry %v", name, entry)
			}
			sinks = append(sinks, s)
		}
	default:
		return nil, fmt.Errorf("node %q: invalid sink %v", name, raw)
	}

	for _, key := range sinks {
		if _, ok := sch[key]; !ok {
			return nil, fmt.Errorf("node %q: sink key %q is not declared", name, key)
		}
		if state.EngineOwned(key) {
			return nil, fmt.Errorf("node %q: sink key %q is engine-owned", name, key)
		}
	}
	return sinks, nil
}

func buildTransition(name string, raw any, nodes map[string]map[string]any) (domain.Transition, error) {
	validate := func(target string) error {
		if target == domain.End {
			return nil
		}
		if _, ok := nodes[target]; !ok {
			return fmt.Errorf("node %q: transition targets unknown node %q", name, target)
		}
		return nil
	}

	switch v := raw.(type) {
	case string:
		if err := validate(v); err != nil {
			return domain.Transition{}, err
		}
		return domain.Transition{Next: v}, nil

	case map[string]any:
		var spec TransitionSpec
		if err := mapstructure.Decode(v, &spec); err != nil {
			return domain.Transition{}, fmt.Errorf("node %q: %w", name, err)
		}
		if spec.Condition == "" {
			return domain.Transition{}, fmt.Errorf("node %q: conditional transition requires a condition", name)
		}
		cond, err := expr.Parse(spec.Condition)
		if err != nil {
			return domain.Transition{}, fmt.Errorf("node %q: %w", name, err)
		}
		if err := validate(spec.Then); err != nil {
			return domain.Transition{}, err
		}
		if err := validate(spec.Else); err != nil {
			return domain.Transition{}, err
		}
		return domain.Transition{Condition: cond, Then: spec.Then, Else: spec.Else}, nil

	case nil:
		return domain.Transition{}, fmt.Errorf("node %q has no transition rule", name)

	default:
		return domain.Transition{}, fmt.Errorf("node %q: invalid transition %v", name, raw)
	}
}

// warnUnreachable logs nodes the entry point can never reach. They are
// legal but usually indicate a broken edit.
func warnUnreachable(g *domain.Graph, logger *slog.Logger) {
	seen := map[string]struct{}{}
	queue := []string{g.Entry}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, done := seen[name]; done || name == domain.End {
			continue
		}
		seen[name] = struct{}{}
		queue = append(queue, g.Transitions[name].Targets()...)
	}

	var unreachable []string
	for name := range g.Nodes {
		if _, ok := seen[name]; !ok {
			unreachable = append(unreachable, name)
		}
	}
	sort.Strings(unreachable)
	for _, name := range unreachable {
		logger.Warn("node is unreachable from entry point",
			"workflow", g.Name, "node", name)
	}
}

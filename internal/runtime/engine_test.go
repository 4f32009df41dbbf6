package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/internal/runtime"
	"github.com/loomlab/loom/pkg/adapters/memory"
	"github.com/loomlab/loom/pkg/compiler"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/ports"
	"github.com/loomlab/loom/pkg/registry"
)

// fakeModel returns canned responses in order.
type fakeModel struct {
	responses []string
	calls     int
	err       error
}

func (m *fakeModel) Invoke(ctx context.Context, prompt string, images []ports.ImagePayload) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.calls >= len(m.responses) {
		return "", fmt.Errorf("no response scripted for call %d", m.calls+1)
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

// fakeLauncher reports every registered name as known and replays a
// fixed sequence of results.
type fakeLauncher struct {
	results []ports.ProcessResult
	calls   int
}

func (l *fakeLauncher) Known(name string) bool { return true }

func (l *fakeLauncher) Launch(ctx context.Context, name string, params map[string]any) (ports.ProcessResult, error) {
	if l.calls >= len(l.results) {
		return ports.ProcessResult{ErrorText: "unscripted attempt"}, nil
	}
	res := l.results[l.calls]
	l.calls++
	return res, nil
}

const questionnaireDoc = `
name: questionnaire
state_defs:
  - question: string
  - answers: "[string]"
  - summary: string
history_keys: [answers]
entry_point: collect
intervene_before: [collect]
nodes:
  collect:
    type: function
    function: record_answer
    source: [human_input]
    sink: [answers]
    next:
      condition: "len(answers) >= 3"
      then: format
      else: collect
  format:
    type: function
    function: format_summary
    source: [answers]
    sink: [summary]
    next: END
`

func compileQuestionnaire(t *testing.T) *domain.Graph {
	t.Helper()

	reg := registry.New()
	reg.Register("record_answer", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		return []any{kwargs["human_input"]}, nil
	})
	reg.Register("format_summary", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		answers, _ := kwargs["answers"].([]any)
		return []any{fmt.Sprintf("%d answers recorded", len(answers))}, nil
	})

	g, err := compiler.Compile([]byte(questionnaireDoc), compiler.Options{Bindings: reg})
	require.NoError(t, err)
	return g
}

func TestEngine_InterruptLoopToCompletion(t *testing.T) {
	g := compileQuestionnaire(t)
	store := memory.NewStore()
	engine := runtime.NewEngine(g, store)
	ctx := context.Background()

	res, err := engine.Start(ctx, "inst-a", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingInput, res.Status)
	assert.Equal(t, "collect", res.AwaitingNode)
	assert.Equal(t, int64(0), res.Step)

	for i, answer := range []string{"red", "green"} {
		res, err = engine.Resume(ctx, "inst-a", answer)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAwaitingInput, res.Status, "answer %d", i+1)
		assert.Equal(t, "collect", res.AwaitingNode)
	}

	res, err = engine.Resume(ctx, "inst-a", "blue")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, []any{"red", "green", "blue"}, res.State["answers"])
	assert.Equal(t, "3 answers recorded", res.State["summary"])
	assert.Equal(t, int64(4), res.Step)
}

func TestEngine_RetryBudgetExceeded(t *testing.T) {
	doc := `
name: acquisition
state_defs:
  - scan_path: string
entry_point: acquire
nodes:
  acquire:
    type: control
    process: acquire_scan
    max_retries: 2
    sink: [scan_path]
    next: END
`
	launcher := &fakeLauncher{results: []ports.ProcessResult{
		{ErrorText: "detector offline"},
		{ErrorText: "detector offline"},
		{ErrorText: "detector offline"},
	}}
	g, err := compiler.Compile([]byte(doc), compiler.Options{Processes: launcher})
	require.NoError(t, err)

	store := memory.NewStore()
	engine := runtime.NewEngine(g, store, runtime.WithLauncher(launcher))

	res, err := engine.Start(context.Background(), "inst-b", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, 3, launcher.calls, "one initial attempt plus two retries")
	assert.Equal(t, 3, res.State["retry_count"])
	assert.Contains(t, res.Error, "retry budget exceeded")

	// The failed instance stays queryable.
	cp, err := store.Get(context.Background(), "inst-b")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, cp.Status)
	assert.Contains(t, cp.Error, "retry budget exceeded")
}

func TestEngine_ConditionOnMissingKeyFails(t *testing.T) {
	doc := `
name: validation
state_defs:
  - validation_response: dict
  - report: string
entry_point: check
nodes:
  check:
    type: function
    function: noop
    sink: [report]
    next:
      condition: 'validation_response["validation_passed"] == true'
      then: END
      else: check
`
	reg := registry.New()
	reg.Register("noop", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		return []any{"checked"}, nil
	})
	g, err := compiler.Compile([]byte(doc), compiler.Options{Bindings: reg})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore())

	res, err := engine.Start(context.Background(), "inst-c", nil)
	require.Error(t, err)
	var cee *domain.ConditionEvalError
	require.ErrorAs(t, err, &cee)
	assert.Equal(t, "check", cee.Node)
	assert.Equal(t, domain.StatusFailed, res.Status)
}

func TestEngine_PromptNodeJSONOutput(t *testing.T) {
	doc := `
name: analysis
state_defs:
  - params_desc: string
  - validation_response: dict
entry_point: validate
nodes:
  validate:
    type: prompt
    template: "Validate these parameters: {context}"
    source: [{context: params_desc}]
    sink: [validation_response]
    sink_format: json
    next: END
`
	model := &fakeModel{responses: []string{`{"validation_passed": true, "issues": []}`}}
	g, err := compiler.Compile([]byte(doc), compiler.Options{})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore(), runtime.WithModel(model))

	res, err := engine.Start(context.Background(), "inst-d", map[string]any{
		"params_desc": "beam energy 12 keV",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)

	parsed, ok := res.State["validation_response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, parsed["validation_passed"])
}

func TestEngine_PromptNodeBadJSONFailsStep(t *testing.T) {
	doc := `
name: analysis
state_defs:
  - params_desc: string
  - validation_response: dict
entry_point: validate
nodes:
  validate:
    type: prompt
    template: "Validate: {params_desc}"
    sink: [validation_response]
    sink_format: json
    next: END
`
	model := &fakeModel{responses: []string{"sure, looks good to me!"}}
	g, err := compiler.Compile([]byte(doc), compiler.Options{})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore(), runtime.WithModel(model))

	res, err := engine.Start(context.Background(), "inst-e", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "output format error")
	assert.Equal(t, 1, model.calls, "parse failure is not retried")
}

func TestEngine_FunctionFaultFoldsIntoState(t *testing.T) {
	doc := `
name: repairable
state_defs:
  - result: string
  - note: string
entry_point: simulate
nodes:
  simulate:
    type: function
    function: crash
    sink: [result]
    next:
      condition: "execution_success == true"
      then: END
      else: repair
  repair:
    type: function
    function: mend
    source: [execution_error]
    sink: [note]
    next: END
`
	reg := registry.New()
	reg.Register("crash", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		return nil, errors.New("solver diverged")
	})
	reg.Register("mend", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		return []any{fmt.Sprintf("repaired after: %v", kwargs["execution_error"])}, nil
	})
	g, err := compiler.Compile([]byte(doc), compiler.Options{Bindings: reg})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore())

	res, err := engine.Start(context.Background(), "inst-f", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Contains(t, res.State["note"], "solver diverged",
		"the repair node saw the folded failure")
	assert.Equal(t, "", res.State["result"], "failed node writes no sinks")
}

func TestEngine_StepTouchesOnlySinksAndEngineKeys(t *testing.T) {
	doc := `
name: minimal
state_defs:
  - a: string
  - b: string
entry_point: write_a
intervene_before: [hold]
nodes:
  write_a:
    type: function
    function: emit
    sink: [a]
    next: hold
  hold:
    type: function
    function: emit
    sink: [b]
    next: END
`
	reg := registry.New()
	reg.Register("emit", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		return []any{"written"}, nil
	})
	g, err := compiler.Compile([]byte(doc), compiler.Options{Bindings: reg})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore())
	res, err := engine.Start(context.Background(), "inst-g", map[string]any{"b": "untouched"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingInput, res.Status)

	assert.Equal(t, "written", res.State["a"])
	assert.Equal(t, "untouched", res.State["b"])
	assert.Equal(t, "hold", res.State["current_node"])
	assert.Equal(t, "write_a", res.State["previous_node"])
}

func TestEngine_CheckpointRoundTrip(t *testing.T) {
	g := compileQuestionnaire(t)
	store := memory.NewStore()
	ctx := context.Background()

	engine1 := runtime.NewEngine(g, store)
	res, err := engine1.Start(ctx, "inst-h", nil)
	require.NoError(t, err)
	_, err = engine1.Resume(ctx, "inst-h", "first")
	require.NoError(t, err)

	// A fresh engine over the same store picks up exactly where the
	// first left off.
	engine2 := runtime.NewEngine(g, store)
	res, err = engine2.Inspect(ctx, "inst-h")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingInput, res.Status)
	assert.Equal(t, []any{"first"}, res.State["answers"])

	res, err = engine2.Resume(ctx, "inst-h", "second")
	require.NoError(t, err)
	assert.Equal(t, []any{"first", "second"}, res.State["answers"])
}

func TestEngine_ResumeTerminalIsNoOp(t *testing.T) {
	g := compileQuestionnaire(t)
	store := memory.NewStore()
	engine := runtime.NewEngine(g, store)
	ctx := context.Background()

	_, err := engine.Start(ctx, "inst-i", nil)
	require.NoError(t, err)
	for _, answer := range []string{"1", "2", "3"} {
		_, err = engine.Resume(ctx, "inst-i", answer)
		require.NoError(t, err)
	}

	status, err := engine.Status(ctx, "inst-i")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, status)

	before, err := engine.Inspect(ctx, "inst-i")
	require.NoError(t, err)

	after, err := engine.Resume(ctx, "inst-i", "")
	require.NoError(t, err)
	assert.Equal(t, before.Step, after.Step)
	assert.Equal(t, before.Status, after.Status)
}

func TestEngine_CancellationStopsRun(t *testing.T) {
	doc := `
name: looper
state_defs:
  - tries: int
entry_point: work
nodes:
  work:
    type: function
    function: work
    sink: [tries]
    next:
      condition: "tries > 100000"
      then: END
      else: work
`
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	reg := registry.New()
	reg.Register("work", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []any{calls}, nil
	})
	g, err := compiler.Compile([]byte(doc), compiler.Options{Bindings: reg})
	require.NoError(t, err)

	store := memory.NewStore()
	engine := runtime.NewEngine(g, store)

	res, err := engine.Start(ctx, "inst-l", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls, "the loop stops on the cancelled call")
	assert.NotEqual(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "", res.State["execution_error"],
		"cancellation is not folded into state")

	// The last completed step's checkpoint stands and stays resumable.
	cp, err := store.Get(context.Background(), "inst-l")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, cp.Status)
	assert.Equal(t, int64(2), cp.Step)
}

func TestEngine_ResumeAfterFailureIsNoOp(t *testing.T) {
	doc := `
name: acquisition
state_defs:
  - scan_path: string
entry_point: acquire
nodes:
  acquire:
    type: control
    process: acquire_scan
    max_retries: 1
    sink: [scan_path]
    next: END
`
	launcher := &fakeLauncher{results: []ports.ProcessResult{
		{ErrorText: "detector offline"},
		{ErrorText: "detector offline"},
	}}
	g, err := compiler.Compile([]byte(doc), compiler.Options{Processes: launcher})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore(), runtime.WithLauncher(launcher))
	ctx := context.Background()

	before, err := engine.Start(ctx, "inst-m", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, before.Status)

	after, err := engine.Resume(ctx, "inst-m", "try again")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, after.Status)
	assert.Equal(t, before.Step, after.Step)
	assert.Equal(t, 2, launcher.calls, "a failed instance never re-executes")
}

func TestEngine_ExitCommandCompletes(t *testing.T) {
	doc := `
name: chat
state_defs:
  - reply: string
exit_commands: ["goodbye", "stop"]
entry_point: talk
intervene_before: [talk]
nodes:
  talk:
    type: function
    function: echo
    source: [human_input]
    sink: [reply]
    next: talk
`
	reg := registry.New()
	reg.Register("echo", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		return []any{kwargs["human_input"]}, nil
	})
	g, err := compiler.Compile([]byte(doc), compiler.Options{Bindings: reg})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore())
	ctx := context.Background()

	res, err := engine.Start(ctx, "inst-j", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingInput, res.Status)

	res, err = engine.Resume(ctx, "inst-j", "hello there")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingInput, res.Status)

	// Matching is case-insensitive and by substring.
	res, err = engine.Resume(ctx, "inst-j", "ok, GOODBYE now")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
}

func TestEngine_StatusUnknownInstance(t *testing.T) {
	g := compileQuestionnaire(t)
	engine := runtime.NewEngine(g, memory.NewStore())

	_, err := engine.Status(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestEngine_HumanInputAppendsToMessages(t *testing.T) {
	doc := `
name: conversational
state_defs:
  - messages: "[dict]"
  - reply: string
history_keys: [messages]
entry_point: talk
intervene_before: [talk]
nodes:
  talk:
    type: function
    function: echo
    source: [human_input]
    sink: [reply]
    next: END
`
	reg := registry.New()
	reg.Register("echo", func(ctx context.Context, kwargs map[string]any) ([]any, error) {
		return []any{kwargs["human_input"]}, nil
	})
	g, err := compiler.Compile([]byte(doc), compiler.Options{Bindings: reg})
	require.NoError(t, err)

	engine := runtime.NewEngine(g, memory.NewStore())
	ctx := context.Background()

	_, err = engine.Start(ctx, "inst-k", nil)
	require.NoError(t, err)

	res, err := engine.Resume(ctx, "inst-k", "what is the beam energy?")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, res.Status)

	messages, ok := res.State["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	entry, ok := messages[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user", entry["role"])
	assert.Equal(t, "what is the beam energy?", entry["content"])
}

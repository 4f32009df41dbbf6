// Package process executes allow-listed external programs on behalf of
// control nodes. Only registered commands can run; workflow state never
// reaches the command line, so a hostile state value cannot inject flags.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loomlab/loom/pkg/ports"
)

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Launcher implements ports.ProcessLauncher with a strict registry.
type Launcher struct {
	registry map[string]RegisteredProcess
	baseDir  string
}

// LauncherOption configures the launcher.
type LauncherOption func(*Launcher)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tools map[string]ProcessConfig) LauncherOption {
	return func(l *Launcher) {
		for name, tool := range tools {
			l.registry[name] = RegisteredProcess{
				Command: tool.Command,
				Args:    tool.Args,
				Env:     tool.Environment,
			}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) LauncherOption {
	return func(l *Launcher) {
		l.baseDir = dir
	}
}

// NewLauncher creates a process launcher.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		registry: make(map[string]RegisteredProcess),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register adds a trusted command to the allow-list.
func (l *Launcher) Register(name string, command string, args ...string) {
	l.registry[name] = RegisteredProcess{
		Command: command,
		Args:    args,
	}
}

// Known reports whether a process name is registered.
func (l *Launcher) Known(name string) bool {
	_, ok := l.registry[name]
	return ok
}

// Launch runs the registered process. Parameters are passed as
// LOOM_ARG_<KEY> environment variables, never as command-line flags.
// A non-zero exit or timeout is reported in the result; the error
// return is reserved for unregistered names and launch failures.
func (l *Launcher) Launch(ctx context.Context, name string, params map[string]any) (ports.ProcessResult, error) {
	proc, ok := l.registry[name]
	if !ok {
		return ports.ProcessResult{}, fmt.Errorf("process not registered: %s", name)
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = l.baseDir

	env := cmd.Environ()
	for k, v := range proc.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range params {
		env = append(env, fmt.Sprintf("LOOM_ARG_%s=%s", strings.ToUpper(k), encodeParam(v)))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return ports.ProcessResult{
				ErrorText: fmt.Sprintf("process %s timed out: %v", name, ctx.Err()),
			}, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ports.ProcessResult{
				ErrorText: fmt.Sprintf("process %s exited with %d: %s",
					name, exitErr.ExitCode(), strings.TrimSpace(stderr.String())),
			}, nil
		}
		return ports.ProcessResult{}, fmt.Errorf("failed to launch %s: %w", name, err)
	}

	return ports.ProcessResult{
		Success:      true,
		ArtifactPath: extractArtifact(stdout.String()),
	}, nil
}

// encodeParam serializes a parameter value for the environment.
// Primitives format directly; lists and dicts pass as JSON.
func encodeParam(v any) string {
	switch v.(type) {
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// extractArtifact pulls the result artifact from process stdout. A JSON
// object with an "artifact_path" field wins; otherwise the trimmed
// stdout is taken as a path when non-empty.
func extractArtifact(output string) string {
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			if p, ok := obj["artifact_path"].(string); ok {
				return p
			}
			return ""
		}
	}
	return trimmed
}

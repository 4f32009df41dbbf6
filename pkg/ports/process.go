package ports

import "context"

// ProcessResult is the captured outcome of one external program attempt.
type ProcessResult struct {
	// Success reports a zero exit within the attempt's timeout.
	Success bool
	// ErrorText carries stderr plus the failure cause when Success is false.
	ErrorText string
	// ArtifactPath is the result artifact the program reported, if any.
	ArtifactPath string
}

// ProcessLauncher runs allow-listed external executables for Control
// nodes. Launch must honor ctx cancellation and kill the child process
// when the deadline passes.
type ProcessLauncher interface {
	// Launch runs the registered process with the given parameter values.
	// A non-zero exit is reported via the result, not the error; the
	// error return is reserved for launch/infrastructure failures.
	Launch(ctx context.Context, name string, params map[string]any) (ProcessResult, error)

	// Known reports whether a process name is registered. The compiler
	// uses it to fail closed on unresolved references.
	Known(name string) bool
}

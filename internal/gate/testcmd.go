package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// TestResult classifies one test-run attempt. Ran=false means the declared
// command could not execute at all (tooling absent), distinct from a real
// test failure, and it does not block the gate.
type TestResult struct {
	Ran      bool
	Passed   bool
	TimedOut bool
	Output   string
}

// TestRunner runs the repository's declared test command, if any.
type TestRunner interface {
	Run(ctx context.Context, timeout time.Duration) (*TestResult, error)
}

// CommandTestRunner detects and runs the test command declared by the
// repository at Dir.
type CommandTestRunner struct {
	Dir string
}

// npmPlaceholder is npm init's default test script; it is not a real test
// command.
const npmPlaceholder = "no test specified"

// DetectTestCommand inspects the repository for a declared test command.
// Recognized declarations, in order: a package.json test script (that is
// not npm's placeholder), a Makefile test target, a go.mod (implying
// "go test ./..."). Returns ok=false when nothing real is declared.
func DetectTestCommand(dir string) (string, bool) {
	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		var pkg struct {
			Scripts map[string]string `json:"scripts"`
		}
		if json.Unmarshal(data, &pkg) == nil {
			if script, ok := pkg.Scripts["test"]; ok && !strings.Contains(script, npmPlaceholder) {
				return "npm test", true
			}
		}
	}
	for _, name := range []string{"Makefile", "makefile"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "test:") {
				return "make test", true
			}
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return "go test ./...", true
	}
	return "", false
}

// toolingAbsentMarkers are output fragments that mean the test tooling
// itself was missing, not that tests failed.
var toolingAbsentMarkers = []string{
	"command not found",
	"not found",
	"No such file or directory",
	"Cannot find module",
	"MODULE_NOT_FOUND",
	"executable file not found",
}

// ToolingAbsent reports whether a failed run's output indicates missing
// tooling rather than failing tests.
func ToolingAbsent(output string) bool {
	for _, marker := range toolingAbsentMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

// Run executes the declared test command under a CI-like environment with
// a bounded timeout. A repo with no declared command yields Ran=false.
func (r *CommandTestRunner) Run(ctx context.Context, timeout time.Duration) (*TestResult, error) {
	cmdline, ok := DetectTestCommand(r.Dir)
	if !ok {
		return &TestResult{Ran: false}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", cmdline)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "CI=true")
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return &TestResult{Ran: true, TimedOut: true, Output: output}, nil
	}
	if err == nil {
		return &TestResult{Ran: true, Passed: true, Output: output}, nil
	}

	// "sh: vitest: command not found" and friends: the run never
	// actually executed any tests.
	var exitErr *exec.ExitError
	if ToolingAbsent(output) || errors.Is(err, exec.ErrNotFound) {
		return &TestResult{Ran: false, Output: output}, nil
	}
	if errors.As(err, &exitErr) {
		return &TestResult{Ran: true, Passed: false, Output: output}, nil
	}
	return nil, err
}

// Package shell implements the Shell Executor (spec.md §4.4): spawns a
// child process with the chosen shell interpreter, captures combined
// stdout/stderr, enforces the timeout by killing the process group on
// expiry, returns combined output and exit code. Never inherits the
// parent's interactive session.
//
// Grounded on ShubyM-kubectl-ai's pkg/tools/bash_tool.go (interpreter
// dispatch, lookupBashBin fallback) and pkg/exec/local.go (os/exec
// invocation shape), generalized from a single hardcoded bash dispatch to
// the sh/cmd/powershell selection spec.md's execute_shell_command
// requires, and closing the process-group-kill gap the teacher's own
// bash_tool.go leaves open (it only appends a timeout message to stderr;
// it never actually kills the process).
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/executor"
)

const defaultBashBin = "/bin/bash"

func lookupBashBin() string {
	if p, err := exec.LookPath("bash"); err == nil {
		return p
	}
	return defaultBashBin
}

// interpreterCommand resolves the (path, args) to invoke for the
// requested shell on this host, or an error if the interpreter is not
// available on this platform (spec.md §4.3: shell ∈ {sh, cmd, powershell}).
func interpreterCommand(shellKind, command string) (string, []string, error) {
	switch shellKind {
	case "sh":
		if runtime.GOOS == "windows" {
			return "", nil, fmt.Errorf("shell %q is not available on windows", shellKind)
		}
		return lookupBashBin(), []string{"-c", command}, nil
	case "cmd":
		if runtime.GOOS != "windows" {
			return "", nil, fmt.Errorf("shell %q is only available on windows", shellKind)
		}
		return "cmd.exe", []string{"/c", command}, nil
	case "powershell":
		if runtime.GOOS == "windows" {
			return "powershell.exe", []string{"-NoProfile", "-Command", command}, nil
		}
		if p, err := exec.LookPath("pwsh"); err == nil {
			return p, []string{"-NoProfile", "-Command", command}, nil
		}
		return "", nil, fmt.Errorf("shell %q requires pwsh on non-windows hosts", shellKind)
	default:
		return "", nil, fmt.Errorf("unknown shell %q", shellKind)
	}
}

// ExecResult is the structured payload returned to the LLM.
type ExecResult struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// DefaultTimeout matches spec.md §4.2's 120s cap for process-spawning
// tools.
const DefaultTimeout = 120 * time.Second

// Handler returns an executor.Handler for execute_shell_command.
func Handler() executor.Handler {
	return func(ctx context.Context, params map[string]any) (executor.Result, error) {
		command, _ := params["command"].(string)
		shellKind, _ := params["shell"].(string)
		if command == "" || shellKind == "" {
			return executor.Result{}, apierr.BadParams("command and shell are required")
		}

		timeout := DefaultTimeout
		if sec, ok := asFloat(params["timeout_sec"]); ok && sec > 0 {
			timeout = time.Duration(sec) * time.Second
			if timeout > DefaultTimeout {
				timeout = DefaultTimeout
			}
		}

		path, args, err := interpreterCommand(shellKind, command)
		if err != nil {
			return executor.Result{}, apierr.BadParams(err.Error())
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, path, args...)
		// New process group so the whole group can be killed on timeout,
		// never attached to the parent's controlling terminal.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		cmd.Cancel = func() error {
			if cmd.Process == nil {
				return nil
			}
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}

		runErr := cmd.Run()

		result := ExecResult{Command: command, Stdout: stdout.String(), Stderr: stderr.String()}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}

		if runCtx.Err() == context.DeadlineExceeded {
			return executor.Result{}, apierr.Timeout(fmt.Sprintf("command exceeded %s timeout", timeout))
		}
		if runErr != nil {
			if _, ok := runErr.(*exec.ExitError); !ok {
				return executor.Result{}, fmt.Errorf("execute_shell_command: %w", runErr)
			}
		}
		return executor.Result{Payload: result}, nil
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

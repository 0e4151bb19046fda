package run

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result is the outcome of one external command. Run never returns a Go
// error for a nonzero exit; callers inspect ExitCode and Stderr instead.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err is set only when the command could not be started at all
	// (binary missing, permission denied), never for a nonzero exit.
	Err error
}

// Ok reports whether the command started and exited zero.
func (r Result) Ok() bool {
	return r.Err == nil && r.ExitCode == 0
}

// ErrorText returns the most useful diagnostic text for a failed command:
// stderr if present, stdout otherwise, the start error as a last resort.
func (r Result) ErrorText() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Stdout); s != "" {
		return s
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("exit status %d", r.ExitCode)
}

// Runner executes external commands. The interface exists so tests can
// substitute a fake without spawning processes.
type Runner interface {
	Run(dir string, name string, args ...string) Result
	RunInteractive(dir string, env []string, name string, args ...string) Result
	Detach(dir string, env []string, logFile string, name string, args ...string) (pid int, err error)
}

// OSRunner runs commands via os/exec.
type OSRunner struct{}

// NewRunner returns an OSRunner.
func NewRunner() *OSRunner {
	return &OSRunner{}
}

// Run executes the command synchronously, capturing stdout and stderr.
func (r *OSRunner) Run(dir string, name string, args ...string) Result {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result
	}

	result.ExitCode = -1
	result.Err = err
	return result
}

// RunInteractive executes the command with inherited stdio, for agent
// processes the user interacts with directly.
func (r *OSRunner) RunInteractive(dir string, env []string, name string, args ...string) Result {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return Result{}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ExitCode: exitErr.ExitCode()}
	}
	return Result{ExitCode: -1, Err: err}
}

// Detach starts the command in its own session with stdio redirected to
// logFile and returns without waiting. The spawned process outlives the
// invoking CLI.
func (r *OSRunner) Detach(dir string, env []string, logFile string, name string, args ...string) (int, error) {
	log, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer log.Close()

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = nil
	cmd.Stdout = log
	cmd.Stderr = log
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", name, err)
	}

	pid := cmd.Process.Pid
	// Release so the child is not reparented to us as a zombie-in-waiting.
	_ = cmd.Process.Release()
	return pid, nil
}

// Package runner executes manifest-declared commands as child processes.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/slipway/slipway/pkg/logger"
)

// Status describes the outcome of a single step.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Step is one named command to execute.
type Step struct {
	Name    string
	Command string
	Dir     string
	Env     map[string]string
}

// Result records how a step finished.
type Result struct {
	Step     Step
	Status   Status
	ExitCode int
	Output   string
	Duration time.Duration
	Err      error
}

// Runner executes a single step.
type Runner interface {
	Run(ctx context.Context, step Step) Result
}

// ShellRunner runs steps through the system shell.
type ShellRunner struct {
	ProjectRoot string
	Logger      logger.Logger

	// Tee receives a copy of combined step output when set.
	Tee io.Writer
}

// NewShellRunner creates a runner rooted at the project directory.
func NewShellRunner(projectRoot string, log logger.Logger) *ShellRunner {
	return &ShellRunner{
		ProjectRoot: projectRoot,
		Logger:      log,
	}
}

// Run executes the step and captures its combined output.
func (r *ShellRunner) Run(ctx context.Context, step Step) Result {
	startTime := time.Now()

	cmd := createCommand(ctx, step.Command)
	cmd.Dir = r.ProjectRoot
	if step.Dir != "" {
		cmd.Dir = step.Dir
	}

	// Inherit the parent environment, then layer step overrides on top
	cmd.Env = os.Environ()
	for k, v := range step.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var outputBuffer bytes.Buffer
	var multiWriter io.Writer = &outputBuffer
	if r.Tee != nil {
		multiWriter = io.MultiWriter(&outputBuffer, r.Tee)
	}
	cmd.Stdout = multiWriter
	cmd.Stderr = multiWriter

	if r.Logger != nil {
		r.Logger.Debug(fmt.Sprintf("Executing: %s", step.Command))
	}

	err := cmd.Run()
	duration := time.Since(startTime)

	result := Result{
		Step:     step,
		Status:   StatusPassed,
		Output:   outputBuffer.String(),
		Duration: duration,
	}

	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		result.ExitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}

		if r.Logger != nil {
			r.Logger.Error(fmt.Sprintf("%s failed after %s", step.Name, duration),
				logger.WithField("error", err),
				logger.WithField("output", result.Output))
		}
		return result
	}

	if r.Logger != nil {
		r.Logger.Debug(fmt.Sprintf("%s completed in %s", step.Name, duration))
	}

	return result
}

// createCommand creates an exec.Cmd from a command string
func createCommand(ctx context.Context, command string) *exec.Cmd {
	// Parse command with shell
	var cmd *exec.Cmd
	if strings.Contains(command, "&&") || strings.Contains(command, "||") ||
		strings.Contains(command, "|") || strings.Contains(command, ";") ||
		strings.Contains(command, "$") || strings.Contains(command, ">") {
		// Complex command - use shell
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		// Simple command - parse directly
		parts := strings.Fields(command)
		if len(parts) > 0 {
			cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
		} else {
			cmd = exec.CommandContext(ctx, "sh", "-c", command)
		}
	}

	return cmd
}

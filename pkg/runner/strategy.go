package runner

import (
	"context"
	"time"
)

// Report aggregates the results of an ordered step sequence.
type Report struct {
	Results []Result
}

// Failed returns the results of every failed step.
func (r Report) Failed() []Result {
	var failed []Result
	for _, result := range r.Results {
		if result.Status == StatusFailed {
			failed = append(failed, result)
		}
	}
	return failed
}

// FailedNames returns the step names that failed, in execution order.
func (r Report) FailedNames() []string {
	var names []string
	for _, result := range r.Results {
		if result.Status == StatusFailed {
			names = append(names, result.Step.Name)
		}
	}
	return names
}

// Succeeded reports whether no step failed.
func (r Report) Succeeded() bool {
	return len(r.Failed()) == 0
}

// Executed returns how many steps actually ran.
func (r Report) Executed() int {
	executed := 0
	for _, result := range r.Results {
		if result.Status != StatusSkipped {
			executed++
		}
	}
	return executed
}

// Duration returns the total wall time across executed steps.
func (r Report) Duration() time.Duration {
	var total time.Duration
	for _, result := range r.Results {
		total += result.Duration
	}
	return total
}

// Strategy runs a step sequence with a failure policy.
type Strategy interface {
	Execute(ctx context.Context, r Runner, steps []Step) Report
}

// FailFast stops at the first failed step and records the rest as skipped.
// Check pipelines use it so the first broken gate is the only one reported.
type FailFast struct{}

// Execute runs steps in order until one fails.
func (FailFast) Execute(ctx context.Context, r Runner, steps []Step) Report {
	var report Report

	for i, step := range steps {
		result := r.Run(ctx, step)
		report.Results = append(report.Results, result)

		if result.Status == StatusFailed {
			for _, remaining := range steps[i+1:] {
				report.Results = append(report.Results, Result{
					Step:   remaining,
					Status: StatusSkipped,
				})
			}
			break
		}
	}

	return report
}

// RunToCompletion executes every step regardless of earlier failures,
// so a test run always reports the full set of broken suites.
type RunToCompletion struct{}

// Execute runs every step and aggregates all failures.
func (RunToCompletion) Execute(ctx context.Context, r Runner, steps []Step) Report {
	var report Report

	for _, step := range steps {
		report.Results = append(report.Results, r.Run(ctx, step))
	}

	return report
}

// Package context carries run identity through operation and pipeline calls
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context keys for run tracing.
// Using unexported struct pointers prevents key collisions.
var (
	runIDKey     = &struct{}{}
	operationKey = &struct{}{}
	stageKey     = &struct{}{}
	startTimeKey = &struct{}{}
)

// WithRunID adds a run ID to the context
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown-run"
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		return op
	}
	return "unknown-operation"
}

// WithStage adds a release pipeline stage to the context
func WithStage(parent context.Context, stage string) context.Context {
	return context.WithValue(parent, stageKey, stage)
}

// GetStage retrieves the release pipeline stage from context
func GetStage(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey).(string); ok && s != "" {
		return s
	}
	return ""
}

// WithStartTime adds the run start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the run start time from context
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// GetDuration calculates the duration since the start time in context
func GetDuration(ctx context.Context) time.Duration {
	startTime := GetStartTime(ctx)
	return time.Since(startTime)
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// EnrichContext adds run identity and timing to a context
func EnrichContext(parent context.Context) context.Context {
	ctx := parent

	// Add run ID if not present
	if GetRunID(ctx) == "unknown-run" {
		ctx = WithRunID(ctx, GenerateRunID())
	}

	// Add start time
	ctx = WithStartTime(ctx, time.Now())

	return ctx
}

// TracingFields returns common tracing fields for structured logging
func TracingFields(ctx context.Context) map[string]interface{} {
	fields := map[string]interface{}{
		"run_id":      GetRunID(ctx),
		"operation":   GetOperation(ctx),
		"duration_ms": GetDuration(ctx).Milliseconds(),
	}
	if stage := GetStage(ctx); stage != "" {
		fields["stage"] = stage
	}
	return fields
}

package logger

import (
	"context"

	scontext "github.com/slipway/slipway/pkg/context"
)

// LoggerContext extends the Logger interface with context-aware methods
// so run identity travels with every message.
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
	SuccessContext(ctx context.Context, message string, fields ...Field)
}

// Ensure OperationLogger implements LoggerContext
var _ LoggerContext = (*OperationLogger)(nil)

// InfoContext logs an info message with run tracing
func (l *OperationLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Info(message, allFields...)
}

// ErrorContext logs an error message with run tracing
func (l *OperationLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Error(message, allFields...)
}

// WarnContext logs a warning message with run tracing
func (l *OperationLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Warn(message, allFields...)
}

// DebugContext logs a debug message with run tracing
func (l *OperationLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Debug(message, allFields...)
}

// SuccessContext logs a success message with run tracing
func (l *OperationLogger) SuccessContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Success(message, allFields...)
}

// extractContextFields extracts tracing fields from context
func (l *OperationLogger) extractContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field

	// Add run ID if present
	if runID := scontext.GetRunID(ctx); runID != "unknown-run" {
		fields = append(fields, WithField("run_id", runID))
	}

	// Add pipeline stage if present
	if stage := scontext.GetStage(ctx); stage != "" {
		fields = append(fields, WithField("stage", stage))
	}

	// Add duration if start time is present
	if duration := scontext.GetDuration(ctx); duration > 0 {
		fields = append(fields, WithField("duration_ms", duration.Milliseconds()))
	}

	return fields
}

// WithContext creates a logger that automatically includes context fields
func WithContext(ctx context.Context, logger Logger) Logger {
	if ctx == nil {
		return logger
	}

	// Create a wrapper that automatically adds context fields
	return &contextualLogger{
		ctx:    ctx,
		logger: logger,
	}
}

// contextualLogger wraps a logger with automatic context field extraction
type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.InfoContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Info(message, fields...)
	}
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.ErrorContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Error(message, fields...)
	}
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.WarnContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Warn(message, fields...)
	}
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.DebugContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Debug(message, fields...)
	}
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.SuccessContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Success(message, fields...)
	}
}

func (cl *contextualLogger) WithOperation(operation string) Logger {
	return &contextualLogger{
		ctx:    cl.ctx,
		logger: cl.logger.WithOperation(operation),
	}
}

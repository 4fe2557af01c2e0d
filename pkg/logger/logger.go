// Package logger provides enhanced logging with operation-specific support
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithOperation(operation string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// OperationLogger implements Logger with operation awareness
type OperationLogger struct {
	logger    *logrus.Logger
	operation string
	mu        sync.RWMutex
}

// CustomFormatter formats logs with colors and emojis
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	crate := "📦"
	timestamp := entry.Time.Format(f.TimestampFormat)

	// Color the level
	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	case logrus.DebugLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	default:
		levelColor = color.New(color.FgGreen)
		levelText = "SUCCESS"
	}

	// Build operation prefix
	operationPrefix := ""
	if operation, ok := entry.Data["operation"]; ok {
		operationPrefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(operation))
		delete(entry.Data, "operation") // Remove from data to avoid duplication
	}

	// Format the message
	var output string
	if f.DisableColors {
		output = fmt.Sprintf("%s [%s] %s: %s%s", crate, timestamp, levelText, operationPrefix, entry.Message)
	} else {
		output = fmt.Sprintf("%s [%s] %s: %s%s",
			crate,
			timestamp,
			levelColor.Sprint(levelText),
			operationPrefix,
			entry.Message,
		)
	}

	// Add remaining fields
	if len(entry.Data) > 0 {
		fields := " {"
		first := true
		for k, v := range entry.Data {
			if !first {
				fields += ", "
			}
			fields += fmt.Sprintf("%s=%v", k, v)
			first = false
		}
		fields += "}"
		output += color.New(color.FgWhite, color.Faint).Sprint(fields)
	}

	return []byte(output + "\n"), nil
}

// CreateLogger creates a new logger instance
func CreateLogger(logFile string, logLevel string) Logger {
	log := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// Set custom formatter for console
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   false,
	})

	// Add file output if specified
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			multiWriter := io.MultiWriter(os.Stdout, file)
			log.SetOutput(multiWriter)
		}
	}

	return &OperationLogger{
		logger: log,
	}
}

// CreateOperationLogger creates a logger bound to a specific operation
func CreateOperationLogger(baseLogger Logger, operation string) Logger {
	if ol, ok := baseLogger.(*OperationLogger); ok {
		return &OperationLogger{
			logger:    ol.logger,
			operation: operation,
		}
	}
	return baseLogger
}

// CreateLoggerWithOutput creates a logger with custom output (for testing)
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	log := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// Set custom formatter for console
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   true, // Disable colors for test output
	})

	// Set custom output
	log.SetOutput(output)

	return &OperationLogger{
		logger: log,
	}
}

// WithOperation creates a new logger with operation context
func (l *OperationLogger) WithOperation(operation string) Logger {
	return &OperationLogger{
		logger:    l.logger,
		operation: operation,
	}
}

// convertFields converts Field slice to logrus.Fields
func (l *OperationLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields)
	if l.operation != "" {
		result["operation"] = l.operation
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

// Info logs an info message
func (l *OperationLogger) Info(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info(message)
}

// Error logs an error message
func (l *OperationLogger) Error(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Error(message)
}

// Warn logs a warning message
func (l *OperationLogger) Warn(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Warn(message)
}

// Debug logs a debug message
func (l *OperationLogger) Debug(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Debug(message)
}

// Success logs a success message (info level with special formatting)
func (l *OperationLogger) Success(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info("✅ " + message)
}

// SimpleLogger provides a lightweight logger without dependencies
type SimpleLogger struct {
	operation string
	logLevel  logrus.Level
	mu        sync.RWMutex
}

// NewSimpleLogger creates a simple console logger
func NewSimpleLogger(operation string, logLevel string) Logger {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	return &SimpleLogger{
		operation: operation,
		logLevel:  level,
	}
}

// shouldLog checks if message should be logged at given level
func (l *SimpleLogger) shouldLog(level logrus.Level) bool {
	return level <= l.logLevel
}

// formatMessage formats a log message
func (l *SimpleLogger) formatMessage(level, message string) string {
	crate := "📦"
	time := time.Now().Format("15:04:05")
	operation := ""
	if l.operation != "" {
		operation = fmt.Sprintf(" [%s]", l.operation)
	}
	return fmt.Sprintf("%s [%s] %s:%s %s", crate, time, level, operation, message)
}

// WithOperation creates a new logger with operation context
func (l *SimpleLogger) WithOperation(operation string) Logger {
	return &SimpleLogger{
		operation: operation,
		logLevel:  l.logLevel,
	}
}

// Info logs an info message
func (l *SimpleLogger) Info(message string, fields ...Field) {
	if l.shouldLog(logrus.InfoLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(l.formatMessage("INFO", message))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Error logs an error message
func (l *SimpleLogger) Error(message string, fields ...Field) {
	if l.shouldLog(logrus.ErrorLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Fprintln(os.Stderr, color.RedString(l.formatMessage("ERROR", message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Warn logs a warning message
func (l *SimpleLogger) Warn(message string, fields ...Field) {
	if l.shouldLog(logrus.WarnLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(color.YellowString(l.formatMessage("WARN", message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Debug logs a debug message
func (l *SimpleLogger) Debug(message string, fields ...Field) {
	if l.shouldLog(logrus.DebugLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(color.New(color.Faint).Sprint(l.formatMessage("DEBUG", message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// Success logs a success message
func (l *SimpleLogger) Success(message string, fields ...Field) {
	if l.shouldLog(logrus.InfoLevel) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		fmt.Println(color.GreenString(l.formatMessage("INFO", "✅ "+message)))
		if len(fields) > 0 {
			l.printFields(fields)
		}
	}
}

// printFields prints structured fields
func (l *SimpleLogger) printFields(fields []Field) {
	for _, f := range fields {
		fmt.Printf("  %s: %v\n", f.Key, f.Value)
	}
}

// ConsoleLogger provides simple console output for CLI
type ConsoleLogger struct{}

// NewConsoleLogger creates a console logger for CLI output
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{}
}

// Info prints info message
func (c *ConsoleLogger) Info(message string) {
	crate := "📦"
	fmt.Printf("%s %s %s\n", crate, color.CyanString("[Slipway]"), message)
}

// Error prints error message
func (c *ConsoleLogger) Error(message string) {
	crate := "📦"
	fmt.Fprintf(os.Stderr, "%s %s %s\n", crate, color.RedString("[Slipway]"), message)
}

// Warn prints warning message
func (c *ConsoleLogger) Warn(message string) {
	crate := "📦"
	fmt.Printf("%s %s %s\n", crate, color.YellowString("[Slipway]"), message)
}

// Success prints success message
func (c *ConsoleLogger) Success(message string) {
	crate := "📦"
	fmt.Printf("%s %s ✅ %s\n", crate, color.GreenString("[Slipway]"), message)
}

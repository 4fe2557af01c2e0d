package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across packages
var (
	ErrManifestNotFound = errors.New("manifest not found")
	ErrNoArtifacts      = errors.New("build produced no artifacts")
	ErrNoTestSuites     = errors.New("no test suites declared")
)

// EnvironmentSetupError indicates tool bootstrap or provisioning failed.
// Nothing is built after this error.
type EnvironmentSetupError struct {
	Tool   string
	Detail string
	Err    error
}

func (e *EnvironmentSetupError) Error() string {
	msg := fmt.Sprintf("environment setup failed for %s", e.Tool)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EnvironmentSetupError) Unwrap() error { return e.Err }

// BuildError indicates packaging metadata or build tooling failed
type BuildError struct {
	Detail string
	Err    error
}

func (e *BuildError) Error() string {
	msg := "build failed"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// TestFailure aggregates suite results after every suite has run
type TestFailure struct {
	Failed       int
	Total        int
	FailedSuites []string
}

func (e *TestFailure) Error() string {
	if len(e.FailedSuites) > 0 {
		return fmt.Sprintf("%d of %d test suites failed: %s",
			e.Failed, e.Total, strings.Join(e.FailedSuites, ", "))
	}
	return fmt.Sprintf("%d of %d test suites failed", e.Failed, e.Total)
}

// CheckFailure reports the first validation category that failed.
// Later categories are not run, so their diagnostics never appear here.
type CheckFailure struct {
	Category string
	Output   string
	Err      error
}

func (e *CheckFailure) Error() string {
	msg := fmt.Sprintf("%s check failed", e.Category)
	if e.Output != "" {
		msg += ":\n" + e.Output
	}
	return msg
}

func (e *CheckFailure) Unwrap() error { return e.Err }

// MissingReportError indicates coverage was requested before any test run
type MissingReportError struct {
	Path string
}

func (e *MissingReportError) Error() string {
	return fmt.Sprintf("no coverage data at %s; run the test operation first", e.Path)
}

// PublishReason classifies why the index rejected an upload
type PublishReason string

const (
	PublishReasonTokenRejected    PublishReason = "token-rejected"
	PublishReasonUnreachable      PublishReason = "index-unreachable"
	PublishReasonVersionCollision PublishReason = "version-collision"
	PublishReasonIndexError       PublishReason = "index-error"
)

// PublishError indicates the index rejected an artifact upload.
// Publish failures are terminal; no retry is attempted.
type PublishError struct {
	Reason     PublishReason
	Artifact   string
	StatusCode int
	Err        error
}

func (e *PublishError) Error() string {
	msg := fmt.Sprintf("publish failed (%s)", e.Reason)
	if e.Artifact != "" {
		msg += " for " + e.Artifact
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": index returned %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

// Package types provides core types and configurations for Slipway
package types

import (
	"time"
)

// ProjectType represents different project ecosystems
type ProjectType string

const (
	ProjectTypePython ProjectType = "python"
	ProjectTypeNode   ProjectType = "node"
	ProjectTypeRust   ProjectType = "rust"
	ProjectTypeGo     ProjectType = "go"
	ProjectTypeMixed  ProjectType = "mixed"
)

// Operation names the entries of the command registry
type Operation string

const (
	OperationInstall     Operation = "install"
	OperationCleanBuild  Operation = "clean-build"
	OperationBuild       Operation = "build"
	OperationTest        Operation = "test"
	OperationCoverage    Operation = "coverage"
	OperationBumpVersion Operation = "bump-version"
	OperationCheck       Operation = "check"
	OperationRelease     Operation = "release"
)

// RunStatus represents the current state of an operation run
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Stage represents a release pipeline stage
type Stage string

const (
	StageTriggered        Stage = "triggered"
	StageCheckedOut       Stage = "checked-out"
	StageEnvironmentReady Stage = "environment-ready"
	StageBuilt            Stage = "built"
	StagePublished        Stage = "published"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ProjectConfig identifies the project under management
type ProjectConfig struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ToolchainConfig declares the tooling an environment must provide
type ToolchainConfig struct {
	Installer      string `json:"installer,omitempty" yaml:"installer,omitempty"`
	Bootstrap      string `json:"bootstrap,omitempty" yaml:"bootstrap,omitempty"`
	Runtime        string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	RuntimeVersion string `json:"runtimeVersion,omitempty" yaml:"runtimeVersion,omitempty"`
}

// DependencyGroup represents one installable group of dependencies
type DependencyGroup struct {
	Name    string `json:"name" yaml:"name"`
	Command string `json:"command" yaml:"command"`
}

// BuildConfig represents the artifact build settings
type BuildConfig struct {
	OutputDir    string            `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`
	Command      string            `json:"command" yaml:"command"`
	ArtifactGlob string            `json:"artifactGlob,omitempty" yaml:"artifactGlob,omitempty"`
	Environment  map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// TestSuite represents one named test suite invocation
type TestSuite struct {
	Name    string `json:"name" yaml:"name"`
	Command string `json:"command" yaml:"command"`
}

// TestConfig represents the test run settings
type TestConfig struct {
	Suites       []TestSuite       `json:"suites" yaml:"suites"`
	CoverageFile string            `json:"coverageFile,omitempty" yaml:"coverageFile,omitempty"`
	Environment  map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// CoverageConfig represents coverage report rendering settings
type CoverageConfig struct {
	SummaryCommand string `json:"summaryCommand,omitempty" yaml:"summaryCommand,omitempty"`
	HTMLCommand    string `json:"htmlCommand,omitempty" yaml:"htmlCommand,omitempty"`
	HTMLDir        string `json:"htmlDir,omitempty" yaml:"htmlDir,omitempty"`
}

// CheckConfig represents the fixed validation categories.
// Category order is not configurable: lockfile, then lint, then types.
type CheckConfig struct {
	LockfilePath     string `json:"lockfilePath,omitempty" yaml:"lockfilePath,omitempty"`
	LockfileCommand  string `json:"lockfileCommand,omitempty" yaml:"lockfileCommand,omitempty"`
	LintCommand      string `json:"lintCommand,omitempty" yaml:"lintCommand,omitempty"`
	TypecheckCommand string `json:"typecheckCommand,omitempty" yaml:"typecheckCommand,omitempty"`
}

// PublishConfig represents package index upload settings.
// The credential token is never part of the manifest; it is supplied
// separately at the publish entry point.
type PublishConfig struct {
	IndexURL string `json:"indexUrl" yaml:"indexUrl"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Timeout  *int   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ReleaseConfig represents release pipeline settings
type ReleaseConfig struct {
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
	Workspace  string `json:"workspace,omitempty" yaml:"workspace,omitempty"`
}

// WatchConfig represents file watching configuration
type WatchConfig struct {
	Paths         []string  `json:"paths" yaml:"paths"`
	ExcludeDirs   []string  `json:"excludeDirs,omitempty" yaml:"excludeDirs,omitempty"`
	SettlingDelay *int      `json:"settlingDelay,omitempty" yaml:"settlingDelay,omitempty"`
	Operation     Operation `json:"operation,omitempty" yaml:"operation,omitempty"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file"`
	Level LogLevel `json:"level" yaml:"level"`
}

// Manifest represents the main project configuration
type Manifest struct {
	Version       string              `json:"version" yaml:"version"`
	ProjectType   ProjectType         `json:"projectType" yaml:"projectType"`
	Project       ProjectConfig       `json:"project" yaml:"project"`
	Toolchain     *ToolchainConfig    `json:"toolchain,omitempty" yaml:"toolchain,omitempty"`
	Dependencies  []DependencyGroup   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Build         BuildConfig         `json:"build" yaml:"build"`
	Test          *TestConfig         `json:"test,omitempty" yaml:"test,omitempty"`
	Coverage      *CoverageConfig     `json:"coverage,omitempty" yaml:"coverage,omitempty"`
	Check         *CheckConfig        `json:"check,omitempty" yaml:"check,omitempty"`
	Publish       *PublishConfig      `json:"publish,omitempty" yaml:"publish,omitempty"`
	Release       *ReleaseConfig      `json:"release,omitempty" yaml:"release,omitempty"`
	Watch         *WatchConfig        `json:"watch,omitempty" yaml:"watch,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging       *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// OutputDir returns the artifact output directory, defaulting to dist
func (m *Manifest) OutputDir() string {
	if m.Build.OutputDir != "" {
		return m.Build.OutputDir
	}
	return "dist"
}

// ArtifactGlob returns the glob used to collect built artifacts
func (m *Manifest) ArtifactGlob() string {
	if m.Build.ArtifactGlob != "" {
		return m.Build.ArtifactGlob
	}
	return "*"
}

// NotificationsEnabled reports whether desktop notifications are on
func (m *Manifest) NotificationsEnabled() bool {
	return m.Notifications != nil && m.Notifications.Enabled != nil && *m.Notifications.Enabled
}

// WatchSettlingDelay returns the watch settling delay in milliseconds
func (m *Manifest) WatchSettlingDelay() int {
	if m.Watch != nil && m.Watch.SettlingDelay != nil {
		return *m.Watch.SettlingDelay
	}
	return 1000
}

// WatchOperation returns the operation re-run on file changes
func (m *Manifest) WatchOperation() Operation {
	if m.Watch != nil && m.Watch.Operation != "" {
		return m.Watch.Operation
	}
	return OperationTest
}

// PublishUsername returns the automation identity used for uploads
func (m *Manifest) PublishUsername() string {
	if m.Publish != nil && m.Publish.Username != "" {
		return m.Publish.Username
	}
	return "automation"
}

// PublishTimeout returns the upload timeout
func (m *Manifest) PublishTimeout() time.Duration {
	if m.Publish != nil && m.Publish.Timeout != nil {
		return time.Duration(*m.Publish.Timeout) * time.Second
	}
	return 60 * time.Second
}

// Artifact represents one built distributable file
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// OperationRequest is a queued request to run an operation
type OperationRequest struct {
	ID              string    `json:"id"`
	Operation       Operation `json:"operation"`
	TriggeringFiles []string  `json:"triggeringFiles,omitempty"`
	QueuedAt        time.Time `json:"queuedAt"`
}

// ReleaseEvent represents the upstream release-published trigger
type ReleaseEvent struct {
	Tag         string    `json:"tag"`
	Commit      string    `json:"commit"`
	Name        string    `json:"name,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
}

// Version returns the event tag with a leading "v" stripped
func (e ReleaseEvent) Version() string {
	if len(e.Tag) > 1 && e.Tag[0] == 'v' {
		return e.Tag[1:]
	}
	return e.Tag
}

// StageSequence is the strict order of release pipeline stages
var StageSequence = []Stage{
	StageTriggered,
	StageCheckedOut,
	StageEnvironmentReady,
	StageBuilt,
	StagePublished,
}

package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/slipway/slipway/internal/history"
	"github.com/slipway/slipway/internal/state"
	"github.com/slipway/slipway/pkg/config"
	"github.com/slipway/slipway/pkg/lockfile"
	"github.com/slipway/slipway/pkg/types"
)

// useProjectRoot points the CLI globals at a test directory
func useProjectRoot(t *testing.T, root string) {
	t.Helper()
	oldRoot, oldCfg := projectRoot, cfgFile
	projectRoot = root
	cfgFile = ""
	t.Cleanup(func() {
		projectRoot = oldRoot
		cfgFile = oldCfg
	})
}

func TestOperationRegistry(t *testing.T) {
	expected := []types.Operation{
		types.OperationInstall,
		types.OperationBuild,
		types.OperationCleanBuild,
		types.OperationTest,
		types.OperationCoverage,
		types.OperationBumpVersion,
		types.OperationCheck,
	}

	if len(operationRegistry) != len(expected) {
		t.Fatalf("registry has %d entries, want %d", len(operationRegistry), len(expected))
	}

	for i, entry := range operationRegistry {
		if entry.Operation != expected[i] {
			t.Errorf("registry[%d] = %s, want %s", i, entry.Operation, expected[i])
		}
		if entry.Description == "" {
			t.Errorf("registry[%d] (%s) has no description", i, entry.Operation)
		}
	}
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    types.Operation
		wantErr bool
	}{
		{name: "registry operation", input: "build", want: types.OperationBuild},
		{name: "hyphenated operation", input: "clean-build", want: types.OperationCleanBuild},
		{name: "release is runnable", input: "release", want: types.OperationRelease},
		{name: "unknown operation", input: "deploy", wantErr: true},
		{name: "empty name", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOperation(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseOperation(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseOperation(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewOperationCommands(t *testing.T) {
	commands := newOperationCommands()

	if len(commands) != len(operationRegistry) {
		t.Fatalf("got %d commands, want %d", len(commands), len(operationRegistry))
	}

	for i, cmd := range commands {
		if cmd.Use != string(operationRegistry[i].Operation) {
			t.Errorf("command %d Use = %q, want %q", i, cmd.Use, operationRegistry[i].Operation)
		}
		if cmd.RunE == nil {
			t.Errorf("command %s has no RunE", cmd.Use)
		}
	}
}

func TestResolveToken(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("  tok-file-secret \n"), 0600); err != nil {
		t.Fatal(err)
	}
	emptyFile := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(emptyFile, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		tokenFile string
		env       string
		want      string
		wantErr   bool
	}{
		{name: "from file, trimmed", tokenFile: tokenFile, want: "tok-file-secret"},
		{name: "file wins over env", tokenFile: tokenFile, env: "tok-env", want: "tok-file-secret"},
		{name: "env fallback", env: "tok-env", want: "tok-env"},
		{name: "empty file", tokenFile: emptyFile, wantErr: true},
		{name: "unreadable file", tokenFile: filepath.Join(t.TempDir(), "missing"), wantErr: true},
		{name: "nothing configured", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SLIPWAY_INDEX_TOKEN", tt.env)

			got, err := resolveToken(tt.tokenFile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveEvent(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(payload, []byte(`{"tag":"v2.0.0","commit":"abc123"}`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		tag        string
		commit     string
		eventPath  string
		wantTag    string
		wantCommit string
		wantErr    bool
	}{
		{name: "tag flag only", tag: "v1.4.2", wantTag: "v1.4.2"},
		{name: "tag and commit flags", tag: "v1.4.2", commit: "deadbeef", wantTag: "v1.4.2", wantCommit: "deadbeef"},
		{name: "payload file", eventPath: payload, wantTag: "v2.0.0", wantCommit: "abc123"},
		{name: "flags override payload", tag: "v2.0.1", eventPath: payload, wantTag: "v2.0.1", wantCommit: "abc123"},
		{name: "no trigger at all", wantErr: true},
		{name: "missing payload file", eventPath: filepath.Join(t.TempDir(), "nope.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := resolveEvent(tt.tag, tt.commit, tt.eventPath)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if event.Tag != tt.wantTag {
				t.Errorf("Tag = %q, want %q", event.Tag, tt.wantTag)
			}
			if event.Commit != tt.wantCommit {
				t.Errorf("Commit = %q, want %q", event.Commit, tt.wantCommit)
			}
		})
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "missing manifest suggests init",
			err:      types.ErrManifestNotFound,
			contains: "slipway init",
		},
		{
			name: "version collision suggests bump",
			err: &types.PublishError{
				Reason:     types.PublishReasonVersionCollision,
				Artifact:   "demo-0.1.0.tar.gz",
				StatusCode: 409,
			},
			contains: "bump before releasing",
		},
		{
			name: "rejected token passes through",
			err: &types.PublishError{
				Reason:     types.PublishReasonTokenRejected,
				StatusCode: 401,
			},
			contains: "token-rejected",
		},
		{
			name:     "missing report keeps its instruction",
			err:      &types.MissingReportError{Path: "coverage.xml"},
			contains: "run the test operation first",
		},
		{
			name:     "plain error unchanged",
			err:      errors.New("something else"),
			contains: "something else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeError(tt.err)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("describeError() = %q, want it to contain %q", got, tt.contains)
			}
		})
	}
}

func TestRunList(t *testing.T) {
	if err := runList(); err != nil {
		t.Fatalf("runList() error = %v", err)
	}
}

func TestHistoryCommands(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	ledger, err := history.Open(root)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	_, err = ledger.Append(history.Record{
		RunID:      "run_cafe1234",
		Operation:  types.OperationBuild,
		Status:     types.RunStatusSucceeded,
		Version:    "1.0.0",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Duration:   time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to append record: %v", err)
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("failed to close ledger: %v", err)
	}

	if err := runHistory(20, ""); err != nil {
		t.Errorf("runHistory() error = %v", err)
	}
	if err := runHistory(20, "build"); err != nil {
		t.Errorf("runHistory(build) error = %v", err)
	}
	if err := runHistory(20, "bogus"); err == nil {
		t.Error("runHistory(bogus) expected an error")
	}

	if err := runHistoryShow("run_cafe1234"); err != nil {
		t.Errorf("runHistoryShow() error = %v", err)
	}
	if err := runHistoryShow("run_missing"); err == nil {
		t.Error("runHistoryShow(missing) expected an error")
	}

	if err := runHistoryPrune(10); err != nil {
		t.Errorf("runHistoryPrune() error = %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	manager := config.NewManager()
	manifest := manager.GetDefaultManifest(types.ProjectTypePython, "demo")
	if err := manager.SaveManifest(filepath.Join(root, "slipway.config.json"), manifest); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	sm := state.NewStateManager(root, nil)
	if _, err := sm.InitializeState(types.OperationBuild, "run_11112222"); err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}
	if err := sm.UpdateRunStatus(types.OperationBuild, types.RunStatusSucceeded); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	if err := runStatus(false); err != nil {
		t.Errorf("runStatus() error = %v", err)
	}
	if err := runStatus(true); err != nil {
		t.Errorf("runStatus(json) error = %v", err)
	}
}

func TestRunStatusWithoutManifest(t *testing.T) {
	useProjectRoot(t, t.TempDir())

	err := runStatus(false)
	if !errors.Is(err, types.ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestRunStatusWithWatchLock(t *testing.T) {
	root := t.TempDir()
	useProjectRoot(t, root)

	manager := config.NewManager()
	if err := manager.SaveManifest(filepath.Join(root, "slipway.config.json"), manager.GetDefaultManifest(types.ProjectTypePython, "demo")); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	lock, err := lockfile.Acquire(root)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if pid, held := lockfile.Owner(root); !held || pid != os.Getpid() {
		t.Fatalf("Owner() = (%d, %v), want our own pid", pid, held)
	}
	if err := runStatus(false); err != nil {
		t.Errorf("runStatus() error = %v", err)
	}
}

package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/slipway/slipway/internal/history"
	"github.com/slipway/slipway/internal/index"
	"github.com/slipway/slipway/internal/pipeline"
	"github.com/slipway/slipway/internal/state"
	"github.com/slipway/slipway/pkg/config"
	"github.com/slipway/slipway/pkg/interfaces"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

func testLogger() logger.Logger {
	return logger.CreateLogger("", "error")
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func sourceManifest(version string) *types.Manifest {
	return &types.Manifest{
		Version:     "1.0",
		ProjectType: types.ProjectTypePython,
		Project:     types.ProjectConfig{Name: "demo", Version: version},
		Build: types.BuildConfig{
			OutputDir:    "dist",
			Command:      "mkdir -p dist && touch dist/demo-$SLIPWAY_VERSION.tar.gz",
			ArtifactGlob: "*.tar.gz",
		},
	}
}

// newSourceRepo commits the manifest into a fresh repository and tags
// the manifest version.
func newSourceRepo(t *testing.T, manifest *types.Manifest) (string, string) {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	mgr := config.NewManager()
	if err := mgr.SaveManifest(filepath.Join(dir, "slipway.config.json"), manifest); err != nil {
		t.Fatalf("writing fixture manifest: %v", err)
	}

	git(t, dir, "init", "-q")
	git(t, dir, "config", "user.email", "release@example.com")
	git(t, dir, "config", "user.name", "Release Fixture")
	git(t, dir, "add", "-A")
	git(t, dir, "commit", "-q", "-m", "release fixture")
	git(t, dir, "tag", "v"+manifest.Project.Version)

	return dir, git(t, dir, "rev-parse", "HEAD")
}

func newDevIndex(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	store := t.TempDir()
	s := index.NewServer(index.ServerConfig{StoreDir: store, Token: "s3cret"}, testLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func localManifest(repo, uploadURL string) *types.Manifest {
	manifest := sourceManifest("0.0.0")
	manifest.Release = &types.ReleaseConfig{Repository: repo, Workspace: "work"}
	manifest.Publish = &types.PublishConfig{IndexURL: uploadURL}
	return manifest
}

func newPipeline(t *testing.T, root string, manifest *types.Manifest, event types.ReleaseEvent, token string) *pipeline.Pipeline {
	t.Helper()
	deps := interfaces.Dependencies{
		StateManager:  state.NewStateManager(root, nil),
		ConfigManager: config.NewManager(),
	}
	creds := index.NewCredentials("automation", token)
	return pipeline.New(manifest, root, event, creds, testLogger(), deps)
}

func TestRun_FullReleasePublishes(t *testing.T) {
	repo, sha := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, store := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0", Commit: sha}, "s3cret")
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if p.Stage() != types.StagePublished {
		t.Errorf("expected stage %s, got %s", types.StagePublished, p.Stage())
	}
	if len(p.Artifacts()) != 1 {
		t.Fatalf("expected one artifact, got %d", len(p.Artifacts()))
	}
	if p.Artifacts()[0].Name != "demo-0.2.0.tar.gz" {
		t.Errorf("unexpected artifact name %s", p.Artifacts()[0].Name)
	}

	stored := filepath.Join(store, "demo", "0.2.0", "demo-0.2.0.tar.gz")
	if _, err := os.Stat(stored); err != nil {
		t.Errorf("expected artifact on the index: %v", err)
	}
	if _, err := os.Stat(p.Workspace()); !os.IsNotExist(err) {
		t.Error("expected workspace to be removed after the run")
	}

	st, err := state.NewStateManager(root, nil).ReadState(types.OperationRelease)
	if err != nil {
		t.Fatalf("reading state: %v", err)
	}
	if st.Status != types.RunStatusSucceeded {
		t.Errorf("expected status %s, got %s", types.RunStatusSucceeded, st.Status)
	}
	if st.Stage != types.StagePublished {
		t.Errorf("expected stage %s in state, got %s", types.StagePublished, st.Stage)
	}
}

func TestRun_ChecksOutTagWhenNoCommit(t *testing.T) {
	repo, _ := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, store := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0"}, "s3cret")
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store, "demo", "0.2.0", "demo-0.2.0.tar.gz")); err != nil {
		t.Errorf("expected artifact on the index: %v", err)
	}
}

func TestRun_DuplicateVersionStopsAtBuilt(t *testing.T) {
	repo, sha := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, _ := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")
	event := types.ReleaseEvent{Tag: "v0.2.0", Commit: sha}

	first := newPipeline(t, root, manifest, event, "s3cret")
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first release failed: %v", err)
	}

	second := newPipeline(t, root, manifest, event, "s3cret")
	err := second.Run(context.Background())
	if err == nil {
		t.Fatal("expected the repeated release to fail")
	}

	var pubErr *types.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Reason != types.PublishReasonVersionCollision {
		t.Errorf("expected reason %q, got %q", types.PublishReasonVersionCollision, pubErr.Reason)
	}
	if second.Stage() != types.StageBuilt {
		t.Errorf("expected the run to reach %s, got %s", types.StageBuilt, second.Stage())
	}
}

func TestRun_BadTokenStopsAtBuilt(t *testing.T) {
	repo, sha := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, _ := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0", Commit: sha}, "wrong-token")
	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected the release to fail")
	}

	var pubErr *types.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Reason != types.PublishReasonTokenRejected {
		t.Errorf("expected reason %q, got %q", types.PublishReasonTokenRejected, pubErr.Reason)
	}
	if p.Stage() != types.StageBuilt {
		t.Errorf("expected the run to reach %s, got %s", types.StageBuilt, p.Stage())
	}
}

func TestRun_MissingRepository(t *testing.T) {
	root := t.TempDir()
	manifest := sourceManifest("0.2.0")
	manifest.Publish = &types.PublishConfig{IndexURL: "http://127.0.0.1:1/upload"}

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0"}, "s3cret")
	err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "release repository") {
		t.Fatalf("expected a release repository error, got %v", err)
	}
	if p.Stage() != "" {
		t.Errorf("expected no stage to be reached, got %s", p.Stage())
	}
}

func TestRun_MissingTokenFailsBeforeCheckout(t *testing.T) {
	root := t.TempDir()
	manifest := localManifest(filepath.Join(root, "nowhere.git"), "http://127.0.0.1:1/upload")

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0"}, "")
	err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "credential token") {
		t.Fatalf("expected a missing token error, got %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(root, "work")); !os.IsNotExist(statErr) {
		t.Error("expected no workspace to be created")
	}
}

func TestRun_CloneFailureStaysTriggered(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	manifest := localManifest(filepath.Join(t.TempDir(), "missing.git"), "http://127.0.0.1:1/upload")

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0"}, "s3cret")
	err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "source checkout failed") {
		t.Fatalf("expected a checkout error, got %v", err)
	}
	if p.Stage() != types.StageTriggered {
		t.Errorf("expected the run to stop at %s, got %s", types.StageTriggered, p.Stage())
	}
}

func TestRun_BuildFailureStaysEnvironmentReady(t *testing.T) {
	broken := sourceManifest("0.2.0")
	broken.Build.Command = "false"
	repo, sha := newSourceRepo(t, broken)

	ts, _ := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0", Commit: sha}, "s3cret")
	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected the release to fail")
	}

	var buildErr *types.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %T: %v", err, err)
	}
	if p.Stage() != types.StageEnvironmentReady {
		t.Errorf("expected the run to stop at %s, got %s", types.StageEnvironmentReady, p.Stage())
	}
}

func TestRun_CheckoutManifestDrivesBuild(t *testing.T) {
	repo, sha := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, store := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")

	// The event tag disagrees with the checkout manifest; the manifest wins.
	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v9.9.9", Commit: sha}, "s3cret")
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store, "demo", "0.2.0", "demo-0.2.0.tar.gz")); err != nil {
		t.Errorf("expected the checkout manifest version on the index: %v", err)
	}
}

func TestRun_RecordsHistoryAndKeepsTokenOut(t *testing.T) {
	repo, sha := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, _ := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")
	event := types.ReleaseEvent{Tag: "v0.2.0", Commit: sha}

	ledger, err := history.Open(root)
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}

	deps := interfaces.Dependencies{
		StateManager:  state.NewStateManager(root, nil),
		ConfigManager: config.NewManager(),
		History:       ledger,
	}
	creds := index.NewCredentials("automation", "s3cret")

	p := pipeline.New(manifest, root, event, creds, testLogger(), deps)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// A rejected token must not leak into state or history either.
	rejected := pipeline.New(manifest, root, event, index.NewCredentials("automation", "bad-s3cret-token"), testLogger(), deps)
	if err := rejected.Run(context.Background()); err == nil {
		t.Fatal("expected the second release to fail")
	}

	rec, err := ledger.LastRun(types.OperationRelease)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a history row for the release")
	}
	if rec.Stage != types.StageBuilt {
		t.Errorf("expected last run to record stage %s, got %s", types.StageBuilt, rec.Stage)
	}
	if !strings.HasPrefix(rec.RunID, "run_") {
		t.Errorf("unexpected run ID %s", rec.RunID)
	}

	if err := ledger.Close(); err != nil {
		t.Fatalf("closing ledger: %v", err)
	}

	walkErr := filepath.WalkDir(filepath.Join(root, ".slipway"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		if bytes.Contains(data, []byte("s3cret")) {
			t.Errorf("credential token found in %s", path)
		}
		return nil
	})
	if walkErr != nil {
		t.Fatalf("scanning state files: %v", walkErr)
	}
}

func TestRun_DefaultWorkspaceUnderTemp(t *testing.T) {
	repo, sha := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, _ := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")
	manifest.Release.Workspace = ""

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0", Commit: sha}, "s3cret")
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if !strings.Contains(filepath.Base(p.Workspace()), "slipway-release-") {
		t.Errorf("unexpected workspace location %s", p.Workspace())
	}
	if _, err := os.Stat(p.Workspace()); !os.IsNotExist(err) {
		t.Error("expected the temporary workspace to be removed")
	}
}

func TestRun_KeepWorkspace(t *testing.T) {
	repo, sha := newSourceRepo(t, sourceManifest("0.2.0"))
	ts, _ := newDevIndex(t)
	root := t.TempDir()
	manifest := localManifest(repo, ts.URL+"/upload")

	p := newPipeline(t, root, manifest, types.ReleaseEvent{Tag: "v0.2.0", Commit: sha}, "s3cret")
	p.KeepWorkspace = true
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	checkout := filepath.Join(p.Workspace(), "src", "slipway.config.json")
	if _, err := os.Stat(checkout); err != nil {
		t.Errorf("expected the checkout to be kept: %v", err)
	}
}

package index_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/slipway/slipway/internal/index"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

func testLogger() logger.Logger {
	return logger.CreateLogger("", "error")
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	store := t.TempDir()
	s := index.NewServer(index.ServerConfig{
		StoreDir: store,
		Username: "automation",
		Token:    "s3cret",
	}, testLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func writeArtifact(t *testing.T, name, content string) types.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}
	sum := sha256.Sum256([]byte(content))
	return types.Artifact{
		Name:   name,
		Path:   path,
		Size:   int64(len(content)),
		SHA256: hex.EncodeToString(sum[:]),
	}
}

func newUploadClient(ts *httptest.Server, token string) *index.Client {
	creds := index.NewCredentials("automation", token)
	return index.NewClient(ts.URL+"/upload", "demo", "0.1.0", creds, 5*time.Second, testLogger())
}

func TestUploadAndDownload(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newUploadClient(ts, "s3cret")

	artifact := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	if err := client.Upload(context.Background(), artifact); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/packages/demo/0.1.0/demo-0.1.0.tar.gz")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "sdist bytes" {
		t.Errorf("downloaded content %q does not match upload", body)
	}
}

func TestUploadBadToken(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newUploadClient(ts, "wrong-token")

	artifact := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	err := client.Upload(context.Background(), artifact)
	if err == nil {
		t.Fatal("expected upload with a bad token to fail")
	}

	var pubErr *types.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Reason != types.PublishReasonTokenRejected {
		t.Errorf("expected reason %q, got %q", types.PublishReasonTokenRejected, pubErr.Reason)
	}
	if pubErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", pubErr.StatusCode)
	}
}

func TestUploadDuplicateVersion(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newUploadClient(ts, "s3cret")

	artifact := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	if err := client.Upload(context.Background(), artifact); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}

	err := client.Upload(context.Background(), artifact)
	if err == nil {
		t.Fatal("expected second upload of the same file to fail")
	}

	var pubErr *types.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Reason != types.PublishReasonVersionCollision {
		t.Errorf("expected reason %q, got %q", types.PublishReasonVersionCollision, pubErr.Reason)
	}
	if pubErr.StatusCode != http.StatusConflict {
		t.Errorf("expected status 409, got %d", pubErr.StatusCode)
	}
}

func TestUploadDistinctFilesSameVersion(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newUploadClient(ts, "s3cret")

	sdist := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	wheel := writeArtifact(t, "demo-0.1.0-py3-none-any.whl", "wheel bytes")

	if err := client.Upload(context.Background(), sdist); err != nil {
		t.Fatalf("sdist upload failed: %v", err)
	}
	if err := client.Upload(context.Background(), wheel); err != nil {
		t.Fatalf("wheel upload failed: %v", err)
	}
}

func TestUploadUnreachable(t *testing.T) {
	creds := index.NewCredentials("automation", "s3cret")
	client := index.NewClient("http://127.0.0.1:1/upload", "demo", "0.1.0", creds, 2*time.Second, testLogger())

	artifact := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	err := client.Upload(context.Background(), artifact)
	if err == nil {
		t.Fatal("expected upload to an unreachable index to fail")
	}

	var pubErr *types.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Reason != types.PublishReasonUnreachable {
		t.Errorf("expected reason %q, got %q", types.PublishReasonUnreachable, pubErr.Reason)
	}
}

func TestUploadDigestMismatch(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newUploadClient(ts, "s3cret")

	artifact := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	artifact.SHA256 = strings.Repeat("0", 64)

	err := client.Upload(context.Background(), artifact)
	if err == nil {
		t.Fatal("expected upload with a wrong digest to fail")
	}

	var pubErr *types.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Reason != types.PublishReasonIndexError {
		t.Errorf("expected reason %q, got %q", types.PublishReasonIndexError, pubErr.Reason)
	}
	if pubErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", pubErr.StatusCode)
	}
}

func TestUploadAllStopsAtFirstFailure(t *testing.T) {
	ts, store := newTestServer(t)
	client := newUploadClient(ts, "s3cret")

	first := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	second := writeArtifact(t, "demo-0.1.0-py3-none-any.whl", "wheel bytes")
	second.Path = filepath.Join(t.TempDir(), "missing.whl")
	third := writeArtifact(t, "demo-0.1.0.zip", "zip bytes")

	err := client.UploadAll(context.Background(), []types.Artifact{first, second, third})
	if err == nil {
		t.Fatal("expected upload of a missing file to fail")
	}

	var pubErr *types.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %T: %v", err, err)
	}
	if pubErr.Artifact != second.Name {
		t.Errorf("expected failure on %q, got %q", second.Name, pubErr.Artifact)
	}

	// The first artifact stays published; the third is never attempted.
	if _, err := os.Stat(filepath.Join(store, "demo", "0.1.0", first.Name)); err != nil {
		t.Errorf("expected %s to be stored: %v", first.Name, err)
	}
	if _, err := os.Stat(filepath.Join(store, "demo", "0.1.0", third.Name)); !os.IsNotExist(err) {
		t.Errorf("expected %s to be skipped after the failure", third.Name)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListPackages(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newUploadClient(ts, "s3cret")

	artifact := writeArtifact(t, "demo-0.1.0.tar.gz", "sdist bytes")
	if err := client.Upload(context.Background(), artifact); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/packages")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	for _, want := range []string{"demo", "0.1.0", "demo-0.1.0.tar.gz"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected listing to contain %q, got %s", want, body)
		}
	}
}

func TestCredentialsNeverPrinted(t *testing.T) {
	creds := index.NewCredentials("automation", "super-secret-token")

	rendered := []string{
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
		fmt.Sprintf("%s", creds),
		creds.String(),
	}
	for _, out := range rendered {
		if strings.Contains(out, "super-secret-token") {
			t.Errorf("credentials leaked the token: %s", out)
		}
	}
	if creds.Token() != "super-secret-token" {
		t.Error("Token() should return the raw token for the upload request")
	}
}

func TestDownloadRejectsTraversal(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/packages/demo/0.1.0/..%2F..%2Fsecrets")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Error("expected a traversal path to be rejected")
	}
}

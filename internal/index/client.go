package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

// Client uploads artifacts to a package index over HTTP
type Client struct {
	uploadURL   string
	project     string
	version     string
	credentials Credentials
	httpClient  *http.Client
	logger      logger.Logger
}

// NewClient creates an upload client for one project version
func NewClient(
	uploadURL string,
	project string,
	version string,
	credentials Credentials,
	timeout time.Duration,
	log logger.Logger,
) *Client {
	return &Client{
		uploadURL:   uploadURL,
		project:     project,
		version:     version,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log,
	}
}

// Upload pushes a single artifact as a multipart POST with basic auth.
// Failures are terminal; the caller never retries.
func (c *Client) Upload(ctx context.Context, artifact types.Artifact) error {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return &types.PublishError{
			Reason:   types.PublishReasonIndexError,
			Artifact: artifact.Name,
			Err:      err,
		}
	}
	defer file.Close()

	digest := artifact.SHA256
	if digest == "" {
		digest, err = fileDigest(artifact.Path)
		if err != nil {
			return &types.PublishError{
				Reason:   types.PublishReasonIndexError,
				Artifact: artifact.Name,
				Err:      err,
			}
		}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"name":    c.project,
		"version": c.version,
		"sha256":  digest,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return &types.PublishError{Reason: types.PublishReasonIndexError, Artifact: artifact.Name, Err: err}
		}
	}

	part, err := writer.CreateFormFile("content", artifact.Name)
	if err != nil {
		return &types.PublishError{Reason: types.PublishReasonIndexError, Artifact: artifact.Name, Err: err}
	}
	if _, err := io.Copy(part, file); err != nil {
		return &types.PublishError{Reason: types.PublishReasonIndexError, Artifact: artifact.Name, Err: err}
	}
	if err := writer.Close(); err != nil {
		return &types.PublishError{Reason: types.PublishReasonIndexError, Artifact: artifact.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return &types.PublishError{Reason: types.PublishReasonIndexError, Artifact: artifact.Name, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.SetBasicAuth(c.credentials.Username, c.credentials.Token())

	if c.logger != nil {
		c.logger.Debug(fmt.Sprintf("Uploading %s to %s as %s",
			artifact.Name, c.uploadURL, c.credentials.Username))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &types.PublishError{
			Reason:   types.PublishReasonUnreachable,
			Artifact: artifact.Name,
			Err:      err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if c.logger != nil {
			c.logger.Info(fmt.Sprintf("Uploaded %s (%d bytes)", artifact.Name, artifact.Size))
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &types.PublishError{
			Reason:     types.PublishReasonTokenRejected,
			Artifact:   artifact.Name,
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusConflict:
		return &types.PublishError{
			Reason:     types.PublishReasonVersionCollision,
			Artifact:   artifact.Name,
			StatusCode: resp.StatusCode,
		}
	default:
		return &types.PublishError{
			Reason:     types.PublishReasonIndexError,
			Artifact:   artifact.Name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", readErrorBody(resp.Body)),
		}
	}
}

// UploadAll pushes every artifact sequentially, stopping at the first
// failure. Artifacts already uploaded in this run stay on the index.
func (c *Client) UploadAll(ctx context.Context, artifacts []types.Artifact) error {
	for i, artifact := range artifacts {
		if c.logger != nil {
			c.logger.Info(fmt.Sprintf("Publishing artifact %d of %d: %s", i+1, len(artifacts), artifact.Name))
		}
		if err := c.Upload(ctx, artifact); err != nil {
			return err
		}
	}
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable response body"
	}
	body := strings.TrimSpace(string(data))
	if body == "" {
		return "empty response body"
	}
	return body
}

package index

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/slipway/slipway/pkg/logger"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type packageEntry struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Files   []string `json:"files"`
}

// ServerConfig configures the development index server
type ServerConfig struct {
	StoreDir string
	Username string
	Token    string
}

// Server is a development package index. It implements just enough of
// the upload contract to exercise the publish stage locally: basic auth,
// digest verification, and duplicate rejection.
type Server struct {
	cfg    ServerConfig
	r      *gin.Engine
	logger logger.Logger
	mu     sync.Mutex
}

// NewServer creates the development index server
func NewServer(cfg ServerConfig, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, r: r, logger: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.r.POST("/upload", s.handleUpload)
	s.r.GET("/packages", s.handleList)
	s.r.GET("/packages/:name/:version/:file", s.handleDownload)

	s.r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Code: "not_found", Message: "no such route"})
	})
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until the listener fails
func (s *Server) Run(addr string) error {
	if s.logger != nil {
		s.logger.Info(fmt.Sprintf("Dev index listening on %s (store: %s)", addr, s.cfg.StoreDir))
	}
	return s.r.Run(addr)
}

func (s *Server) handleUpload(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "invalid_token", Message: "token rejected"})
		return
	}

	name := c.PostForm("name")
	version := c.PostForm("version")
	declaredDigest := c.PostForm("sha256")

	if name == "" || version == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "missing_fields", Message: "name and version are required"})
		return
	}
	if !safeSegment(name) || !safeSegment(version) {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "bad_identifier", Message: "name and version must be plain path segments"})
		return
	}

	fileHeader, err := c.FormFile("content")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "missing_content", Message: "content file is required"})
		return
	}
	filename := filepath.Base(fileHeader.Filename)

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "bad_content", Message: err.Error()})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "bad_content", Message: err.Error()})
		return
	}

	if declaredDigest != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != declaredDigest {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "digest_mismatch", Message: "sha256 does not match uploaded content"})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	destDir := filepath.Join(s.cfg.StoreDir, name, version)
	destPath := filepath.Join(destDir, filename)

	if _, err := os.Stat(destPath); err == nil {
		c.JSON(http.StatusConflict, errorResponse{
			Code:    "version_exists",
			Message: fmt.Sprintf("%s %s already has file %s", name, version, filename),
		})
		return
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "store_error", Message: err.Error()})
		return
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "store_error", Message: err.Error()})
		return
	}

	if s.logger != nil {
		s.logger.Info(fmt.Sprintf("Stored %s %s file %s (%d bytes)", name, version, filename, len(data)))
	}

	c.JSON(http.StatusCreated, gin.H{
		"name":    name,
		"version": version,
		"file":    filename,
		"size":    len(data),
	})
}

func (s *Server) handleList(c *gin.Context) {
	entries := []packageEntry{}

	names, err := os.ReadDir(s.cfg.StoreDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"packages": entries})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "store_error", Message: err.Error()})
		return
	}

	for _, nameEntry := range names {
		if !nameEntry.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(s.cfg.StoreDir, nameEntry.Name()))
		if err != nil {
			continue
		}
		for _, versionEntry := range versions {
			if !versionEntry.IsDir() {
				continue
			}
			entry := packageEntry{Name: nameEntry.Name(), Version: versionEntry.Name()}
			files, err := os.ReadDir(filepath.Join(s.cfg.StoreDir, nameEntry.Name(), versionEntry.Name()))
			if err != nil {
				continue
			}
			for _, f := range files {
				if !f.IsDir() {
					entry.Files = append(entry.Files, f.Name())
				}
			}
			entries = append(entries, entry)
		}
	}

	c.JSON(http.StatusOK, gin.H{"packages": entries})
}

func (s *Server) handleDownload(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")
	file := c.Param("file")

	if !safeSegment(name) || !safeSegment(version) || !safeSegment(file) {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "bad_identifier", Message: "path segments must be plain names"})
		return
	}

	path := filepath.Join(s.cfg.StoreDir, name, version, file)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Code: "not_found", Message: "no such artifact"})
		return
	}

	c.File(path)
}

func (s *Server) authorized(c *gin.Context) bool {
	username, token, ok := c.Request.BasicAuth()
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
		return false
	}
	if s.cfg.Username != "" && subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) != 1 {
		return false
	}
	return true
}

func safeSegment(segment string) bool {
	if segment == "" || segment == "." || segment == ".." {
		return false
	}
	return !strings.ContainsAny(segment, "/\\")
}

// Package artifact exports sandbox snapshots to object storage. A
// snapshot is the full workspace file table plus the synthesized
// preview document, stored under the owning build.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/forgeview/orchestrator/internal/metrics"
)

// ArtifactRef represents a reference to an artifact in storage.
type ArtifactRef struct {
	// URI is the full artifact path (e.g., "s3://bucket/path/to/artifact")
	URI string `json:"uri"`

	// ContentType is the MIME type
	ContentType string `json:"content_type,omitempty"`

	// Size in bytes
	Size int64 `json:"size,omitempty"`

	// Checksum (SHA256)
	Checksum string `json:"checksum,omitempty"`

	// CreatedAt timestamp
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Backend defines the storage backend interface.
type Backend interface {
	// Put stores data and returns an artifact reference
	Put(ctx context.Context, path string, data []byte, contentType string) (*ArtifactRef, error)

	// Get retrieves data for an artifact
	Get(ctx context.Context, ref *ArtifactRef) ([]byte, error)

	// PresignGet generates a presigned URL for download
	PresignGet(ctx context.Context, ref *ArtifactRef, expiry time.Duration) (string, error)
}

// Config holds artifact service configuration.
type Config struct {
	// Backend type: "memory", "s3", "minio"
	Type string

	// S3/MinIO configuration
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// PresignExpiry bounds download URL lifetime.
	PresignExpiry time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type:          "memory",
		PresignExpiry: 15 * time.Minute,
	}
}

// Service exports sandbox snapshots through a storage backend.
type Service struct {
	backend Backend
	expiry  time.Duration
	logger  *slog.Logger
}

// New creates a new artifact service.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var backend Backend
	switch cfg.Type {
	case "", "memory":
		backend = NewMemoryBackend()
	case "s3", "minio":
		s3Backend, err := NewS3Backend(&S3Config{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 backend: %w", err)
		}
		backend = s3Backend
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Service{backend: backend, expiry: expiry, logger: logger}, nil
}

// NewWithBackend creates a service over an existing backend.
func NewWithBackend(backend Backend, expiry time.Duration, logger *slog.Logger) *Service {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, expiry: expiry, logger: logger}
}

// ExportedFile pairs a stored artifact with its download URL. URL is
// empty when the backend cannot presign.
type ExportedFile struct {
	Path string       `json:"path"`
	Ref  *ArtifactRef `json:"ref"`
	URL  string       `json:"url,omitempty"`
}

// Snapshot describes one exported sandbox snapshot.
type Snapshot struct {
	BuildID   string         `json:"build_id"`
	Files     []ExportedFile `json:"files"`
	Preview   *ExportedFile  `json:"preview,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExportSnapshot uploads every workspace file plus the synthesized
// preview document under builds/<buildID>/ and returns the stored refs
// with download URLs. Files upload in path order.
func (s *Service) ExportSnapshot(ctx context.Context, buildID string, files map[string]string, previewMarkup string) (*Snapshot, error) {
	if len(files) == 0 && previewMarkup == "" {
		return nil, fmt.Errorf("export: nothing to export")
	}
	if buildID == "" {
		buildID = "adhoc"
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	snap := &Snapshot{
		BuildID:   buildID,
		Files:     make([]ExportedFile, 0, len(paths)),
		CreatedAt: time.Now().UTC(),
	}

	for _, p := range paths {
		key := fmt.Sprintf("builds/%s/files/%s", buildID, p)
		ref, err := s.put(ctx, key, []byte(files[p]), contentTypeFor(p))
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", p, err)
		}
		snap.Files = append(snap.Files, ExportedFile{
			Path: p,
			Ref:  ref,
			URL:  s.presign(ctx, ref),
		})
	}

	if previewMarkup != "" {
		key := fmt.Sprintf("builds/%s/preview.html", buildID)
		ref, err := s.put(ctx, key, []byte(previewMarkup), "text/html; charset=utf-8")
		if err != nil {
			return nil, fmt.Errorf("export preview: %w", err)
		}
		snap.Preview = &ExportedFile{
			Path: "preview.html",
			Ref:  ref,
			URL:  s.presign(ctx, ref),
		}
	}

	s.logger.Info("snapshot exported",
		slog.String("build_id", buildID),
		slog.Int("files", len(snap.Files)),
	)
	return snap, nil
}

func (s *Service) put(ctx context.Context, key string, data []byte, contentType string) (*ArtifactRef, error) {
	ref, err := s.backend.Put(ctx, key, data, contentType)
	if err != nil {
		metrics.ArtifactOperations.WithLabelValues("put", "error").Inc()
		return nil, err
	}
	metrics.ArtifactOperations.WithLabelValues("put", "success").Inc()
	return ref, nil
}

// presign returns a download URL, or "" when the backend cannot presign.
func (s *Service) presign(ctx context.Context, ref *ArtifactRef) string {
	url, err := s.backend.PresignGet(ctx, ref, s.expiry)
	if err != nil {
		metrics.ArtifactOperations.WithLabelValues("presign", "error").Inc()
		s.logger.Debug("presign unavailable",
			slog.String("uri", ref.URI),
			slog.String("error", err.Error()),
		)
		return ""
	}
	metrics.ArtifactOperations.WithLabelValues("presign", "success").Inc()
	return url
}

// contentTypeFor maps workspace file extensions to MIME types.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css"
	case ".js", ".jsx", ".mjs":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".md":
		return "text/markdown"
	default:
		return "text/plain; charset=utf-8"
	}
}

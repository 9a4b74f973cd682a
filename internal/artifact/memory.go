package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps artifacts in process memory. It is the default
// backend when no object store is configured.
type MemoryBackend struct {
	mu        sync.RWMutex
	artifacts map[string]*memoryArtifact
}

type memoryArtifact struct {
	ref  *ArtifactRef
	data []byte
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		artifacts: make(map[string]*memoryArtifact),
	}
}

func (m *MemoryBackend) Put(_ context.Context, path string, data []byte, contentType string) (*ArtifactRef, error) {
	hash := sha256.Sum256(data)
	ref := &ArtifactRef{
		URI:         fmt.Sprintf("memory://%s", path),
		ContentType: contentType,
		Size:        int64(len(data)),
		Checksum:    hex.EncodeToString(hash[:]),
		CreatedAt:   time.Now().UTC(),
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	m.artifacts[path] = &memoryArtifact{ref: ref, data: stored}
	m.mu.Unlock()
	return ref, nil
}

func (m *MemoryBackend) Get(_ context.Context, ref *ArtifactRef) ([]byte, error) {
	path := strings.TrimPrefix(ref.URI, "memory://")

	m.mu.RLock()
	artifact, ok := m.artifacts[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artifact not found: %s", ref.URI)
	}

	out := make([]byte, len(artifact.data))
	copy(out, artifact.data)
	return out, nil
}

func (m *MemoryBackend) PresignGet(_ context.Context, _ *ArtifactRef, _ time.Duration) (string, error) {
	return "", fmt.Errorf("presigned URLs not supported for memory backend")
}

// Len reports the number of stored artifacts.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.artifacts)
}

var _ Backend = (*MemoryBackend)(nil)

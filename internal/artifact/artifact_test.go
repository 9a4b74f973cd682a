package artifact

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryBackendRoundTrip(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	ref, err := b.Put(ctx, "builds/b-1/files/src/App.jsx", []byte("hello"), "application/javascript")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.URI != "memory://builds/b-1/files/src/App.jsx" {
		t.Errorf("unexpected URI %q", ref.URI)
	}
	if ref.Size != 5 {
		t.Errorf("unexpected size %d", ref.Size)
	}
	if ref.Checksum != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("unexpected checksum %q", ref.Checksum)
	}

	data, err := b.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q, want %q", data, "hello")
	}

	if _, err := b.Get(ctx, &ArtifactRef{URI: "memory://missing"}); err == nil {
		t.Error("expected error for missing artifact")
	}
	if _, err := b.PresignGet(ctx, ref, time.Minute); err == nil {
		t.Error("expected presign to be unsupported")
	}
}

func TestExportSnapshot(t *testing.T) {
	backend := NewMemoryBackend()
	svc := NewWithBackend(backend, time.Minute, testLogger())

	files := map[string]string{
		"src/App.jsx": "export default function App() {}",
		"index.html":  "<!DOCTYPE html><html></html>",
	}
	snap, err := svc.ExportSnapshot(context.Background(), "b-42", files, "<html><body>preview</body></html>")
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	if snap.BuildID != "b-42" {
		t.Errorf("unexpected build id %q", snap.BuildID)
	}
	if len(snap.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(snap.Files))
	}
	// Path order is deterministic.
	if snap.Files[0].Path != "index.html" || snap.Files[1].Path != "src/App.jsx" {
		t.Errorf("unexpected order: %q, %q", snap.Files[0].Path, snap.Files[1].Path)
	}
	if snap.Files[0].Ref.URI != "memory://builds/b-42/files/index.html" {
		t.Errorf("unexpected URI %q", snap.Files[0].Ref.URI)
	}
	if snap.Files[0].Ref.ContentType != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type %q", snap.Files[0].Ref.ContentType)
	}
	// Memory backend cannot presign; URLs stay empty.
	if snap.Files[0].URL != "" {
		t.Errorf("expected empty URL, got %q", snap.Files[0].URL)
	}

	if snap.Preview == nil {
		t.Fatal("expected preview artifact")
	}
	if snap.Preview.Ref.URI != "memory://builds/b-42/preview.html" {
		t.Errorf("unexpected preview URI %q", snap.Preview.Ref.URI)
	}

	data, err := backend.Get(context.Background(), snap.Preview.Ref)
	if err != nil {
		t.Fatalf("Get preview: %v", err)
	}
	if !strings.Contains(string(data), "preview") {
		t.Errorf("preview content lost: %q", data)
	}
	if backend.Len() != 3 {
		t.Errorf("expected 3 stored artifacts, got %d", backend.Len())
	}
}

func TestExportSnapshotNoPreview(t *testing.T) {
	svc := NewWithBackend(NewMemoryBackend(), time.Minute, testLogger())

	snap, err := svc.ExportSnapshot(context.Background(), "b-1", map[string]string{"a.txt": "x"}, "")
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if snap.Preview != nil {
		t.Error("expected no preview artifact")
	}
}

func TestExportSnapshotEmpty(t *testing.T) {
	svc := NewWithBackend(NewMemoryBackend(), time.Minute, testLogger())
	if _, err := svc.ExportSnapshot(context.Background(), "b-1", nil, ""); err == nil {
		t.Fatal("expected error for empty export")
	}
}

func TestExportSnapshotDefaultsBuildID(t *testing.T) {
	backend := NewMemoryBackend()
	svc := NewWithBackend(backend, time.Minute, testLogger())

	snap, err := svc.ExportSnapshot(context.Background(), "", map[string]string{"a.txt": "x"}, "")
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if snap.BuildID != "adhoc" {
		t.Errorf("unexpected build id %q", snap.BuildID)
	}
	if snap.Files[0].Ref.URI != "memory://builds/adhoc/files/a.txt" {
		t.Errorf("unexpected URI %q", snap.Files[0].Ref.URI)
	}
}

func TestNewBackendSelection(t *testing.T) {
	svc, err := New(nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := svc.backend.(*MemoryBackend); !ok {
		t.Errorf("expected memory backend by default, got %T", svc.backend)
	}

	if _, err := New(&Config{Type: "tape"}, testLogger()); err == nil {
		t.Error("expected error for unknown backend type")
	}
	if _, err := New(&Config{Type: "s3"}, testLogger()); err == nil {
		t.Error("expected error for s3 backend without bucket")
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"index.html", "text/html; charset=utf-8"},
		{"src/App.jsx", "application/javascript"},
		{"styles/app.css", "text/css"},
		{"package.json", "application/json"},
		{"logo.svg", "image/svg+xml"},
		{"README.md", "text/markdown"},
		{"notes", "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		if got := contentTypeFor(tt.path); got != tt.want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

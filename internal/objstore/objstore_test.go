package objstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreOpen(t *testing.T) {
	dir := t.TempDir()
	content := []byte("Track Title,Platform\nSong,Spotify\n")
	if err := os.WriteFile(filepath.Join(dir, "report.csv"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(dir)
	rc, size, err := store.Open(context.Background(), "report.csv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestFileStoreOpenMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if _, _, err := store.Open(context.Background(), "nope.csv"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store := NewFileStore(t.TempDir())

	paths := []string{"../etc/passwd", "../../secret", "a/../../b"}
	for _, p := range paths {
		if _, _, err := store.Open(context.Background(), p); err == nil {
			t.Errorf("Open(%q) should have failed", p)
		}
	}
}

func TestFileStoreAllowsSubdirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "2026", "q1")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "r.csv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(dir)
	rc, _, err := store.Open(context.Background(), "2026/q1/r.csv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc.Close()
}

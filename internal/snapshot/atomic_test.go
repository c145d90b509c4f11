package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "session-1.msgp")

	if err := writeFile(path, []byte("first"), 0o640); err != nil {
		t.Fatalf("writeFile failed: %v", err)
	}
	if err := writeFile(path, []byte("second"), 0o640); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("perm = %o, want %o", info.Mode().Perm(), 0o640)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot, found %d entries", len(entries))
	}
}

func TestWriteFileMissingDir(t *testing.T) {
	t.Parallel()

	if err := writeFile(filepath.Join(t.TempDir(), "missing", "s.msgp"), []byte("x"), 0o644); err == nil {
		t.Error("expected error for missing directory")
	}
}

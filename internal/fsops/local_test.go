package fsops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/canopyfs/canopy/internal/canopyerr"
)

func TestLocalMkdirAndStat(t *testing.T) {
	root := t.TempDir()
	l := NewLocal()

	dir := filepath.Join(root, "a", "b")
	if err := l.Mkdir(dir, true); err != nil {
		t.Fatal(err)
	}
	info, err := l.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir {
		t.Error("expected directory")
	}
}

func TestLocalStatNotFound(t *testing.T) {
	root := t.TempDir()
	l := NewLocal()
	_, err := l.Stat(filepath.Join(root, "missing"))
	if !canopyerr.Is(err, canopyerr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLocalRmdirNotEmpty(t *testing.T) {
	root := t.TempDir()
	l := NewLocal()
	dir := filepath.Join(root, "a")
	if err := l.Mkdir(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := l.Rmdir(dir, false)
	if !canopyerr.Is(err, canopyerr.NotEmpty) {
		t.Errorf("expected NotEmpty, got %v", err)
	}
	if err := l.Rmdir(dir, true); err != nil {
		t.Fatalf("recursive rmdir: %v", err)
	}
}

func TestLocalCopyAndRename(t *testing.T) {
	root := t.TempDir()
	l := NewLocal()

	src := filepath.Join(root, "src.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(root, "dst.txt")
	if err := l.CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "hello" {
		t.Fatalf("copy content mismatch: %v %q", err, got)
	}

	moved := filepath.Join(root, "moved.txt")
	if err := l.Rename(dst, moved); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("source still exists after rename")
	}
}

func TestLocalCopyDir(t *testing.T) {
	root := t.TempDir()
	l := NewLocal()

	srcDir := filepath.Join(root, "srcdir")
	if err := os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "nested", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	dstDir := filepath.Join(root, "dstdir")
	if err := l.CopyDir(srcDir, dstDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "nested", "b.txt")); err != nil {
		t.Fatalf("nested file missing: %v", err)
	}
}

package mutate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/canopyfs/canopy/internal/fsops"
	"github.com/canopyfs/canopy/internal/treeindex"
	"github.com/canopyfs/canopy/internal/updatebus"
	"github.com/canopyfs/canopy/internal/vpath"
)

type fakeSuppressor struct{ calls int }

func (f *fakeSuppressor) LookAway() { f.calls++ }

func newTestEngine(t *testing.T) (*Engine, *treeindex.Store, *fakeSuppressor, string) {
	t.Helper()
	root := t.TempDir()
	mapper := vpath.NewMapper(root)
	store := treeindex.New()
	bus := updatebus.New(5*time.Millisecond, func() {
		store.Mutate(func(tx *treeindex.Txn) { tx.RecomputeSizes() })
	})
	suppress := &fakeSuppressor{}
	e := New(fsops.NewLocal(), mapper, store, bus, suppress)
	return e, store, suppress, root
}

func TestMkCreatesEmptyFileAndIndexEntry(t *testing.T) {
	e, store, suppress, root := newTestEngine(t)
	if err := e.Mk("/f.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "f.txt")); err != nil {
		t.Errorf("file not created on disk: %v", err)
	}
	rootEntry, _ := store.Get("/")
	if _, ok := rootEntry.Files["f.txt"]; !ok {
		t.Error("f.txt missing from index")
	}
	if suppress.calls == 0 {
		t.Error("expected lookAway to be called")
	}
}

func TestMkdirCreatesDirAndIndexEntry(t *testing.T) {
	e, store, _, root := newTestEngine(t)
	if err := e.Mkdir("/a/b"); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(filepath.Join(root, "a", "b")); err != nil || !fi.IsDir() {
		t.Errorf("dir not created: %v", err)
	}
	if _, ok := store.Get("/a/b"); !ok {
		t.Error("/a/b missing from index")
	}
}

func TestSaveUpdatesSizeAndContent(t *testing.T) {
	e, store, _, root := newTestEngine(t)
	if err := e.Save("/f.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "f.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("unexpected file content: %q err=%v", data, err)
	}
	rootEntry, _ := store.Get("/")
	if rootEntry.Files["f.txt"].Size != 5 {
		t.Errorf("size = %d, want 5", rootEntry.Files["f.txt"].Size)
	}
}

func TestDelRemovesFileAndIndexEntry(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	if err := e.Mk("/f.txt"); err != nil {
		t.Fatal(err)
	}
	if err := e.Del("/f.txt"); err != nil {
		t.Fatal(err)
	}
	rootEntry, _ := store.Get("/")
	if _, ok := rootEntry.Files["f.txt"]; ok {
		t.Error("f.txt should be gone from index")
	}
}

func TestDelRemovesDirectorySubtree(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	if err := e.Mkdir("/a/b"); err != nil {
		t.Fatal(err)
	}
	if err := e.Del("/a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get("/a"); ok {
		t.Error("/a should be gone")
	}
	if _, ok := store.Get("/a/b"); ok {
		t.Error("/a/b should be gone")
	}
}

func TestMoveFileRelocatesEntry(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	if err := e.Save("/f.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := e.Mkdir("/dest"); err != nil {
		t.Fatal(err)
	}
	if err := e.Move("/f.txt", "/dest/f.txt"); err != nil {
		t.Fatal(err)
	}
	root, _ := store.Get("/")
	if _, ok := root.Files["f.txt"]; ok {
		t.Error("f.txt should no longer be at root")
	}
	dest, _ := store.Get("/dest")
	if _, ok := dest.Files["f.txt"]; !ok {
		t.Error("f.txt should be under /dest")
	}
}

func TestMoveRejectsDirectoryIntoItself(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if err := e.Mkdir("/a"); err != nil {
		t.Fatal(err)
	}
	if err := e.Move("/a", "/a/sub"); err == nil {
		t.Error("expected error moving directory into its own subtree")
	}
}

func TestMoveRejectsBlankDestination(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if err := e.Mkdir("/a"); err != nil {
		t.Fatal(err)
	}
	if err := e.Move("/a", "   "); err == nil {
		t.Error("expected error for blank destination")
	}
}

func TestMoveRejectsSameSourceAndDestination(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if err := e.Mkdir("/a"); err != nil {
		t.Fatal(err)
	}
	if err := e.Move("/a", "/a"); err == nil {
		t.Error("expected error for destination equal to source")
	}
}

func TestCpClonesFileWithFreshMtime(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	if err := e.Save("/f.txt", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	if err := e.Cp("/f.txt", "/g.txt"); err != nil {
		t.Fatal(err)
	}
	root, _ := store.Get("/")
	if _, ok := root.Files["f.txt"]; !ok {
		t.Error("source should still exist after copy")
	}
	if g, ok := root.Files["g.txt"]; !ok || g.Size != 2 {
		t.Errorf("copy missing or wrong size: %+v", root.Files)
	}
}

func TestCollisionResolverAppendsNumericSuffix(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	if err := e.Save("/photo.jpg", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := e.Clipboard("/photo.jpg", "/photo.jpg", Copy); err != nil {
		t.Fatal(err)
	}
	root, _ := store.Get("/")
	if _, ok := root.Files["photo-2.jpg"]; !ok {
		t.Errorf("expected photo-2.jpg from collision resolution: %+v", root.Files)
	}
}

func TestRunBatchReportsPerItemErrors(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if err := e.Mk("/ok.txt"); err != nil {
		t.Fatal(err)
	}
	results := RunBatch([]string{"/ok.txt", "/missing.txt"}, e.Del)
	if results[0].Err != nil {
		t.Errorf("expected /ok.txt delete to succeed, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("expected /missing.txt delete to fail")
	}
}

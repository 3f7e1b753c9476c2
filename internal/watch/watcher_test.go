package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/canopyfs/canopy/internal/treeindex"
	"github.com/canopyfs/canopy/internal/updatebus"
	"github.com/canopyfs/canopy/internal/vpath"
)

type rec struct {
	updates []string
	alls    int
}

func (r *rec) OnUpdate(p string) { r.updates = append(r.updates, p) }
func (r *rec) OnUpdateAll()      { r.alls++ }

func newTestWatcher(t *testing.T, opts Options) (*Watcher, *treeindex.Store, *rec, string) {
	t.Helper()
	root := t.TempDir()
	mapper := vpath.NewMapper(root)
	store := treeindex.New()
	bus := updatebus.New(10*time.Millisecond, func() {
		store.Mutate(func(tx *treeindex.Txn) { tx.RecomputeSizes() })
	})
	r := &rec{}
	bus.Subscribe(r)
	w := New(mapper, store, bus, opts)
	return w, store, r, root
}

func TestInitialScanPopulatesIndex(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "f.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	mapper := vpath.NewMapper(root)
	store := treeindex.New()
	bus := updatebus.New(10*time.Millisecond, nil)
	w := New(mapper, store, bus, Options{PollInterval: time.Hour})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	sub, ok := store.Get("/sub")
	if !ok {
		t.Fatal("/sub not indexed after initial scan")
	}
	if sub.Files["f.txt"].Size != 2 {
		t.Errorf("f.txt size = %d, want 2", sub.Files["f.txt"].Size)
	}
}

func TestIgnorePatternsExcludeEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}

	mapper := vpath.NewMapper(root)
	store := treeindex.New()
	bus := updatebus.New(10*time.Millisecond, nil)
	w := New(mapper, store, bus, Options{PollInterval: time.Hour, IgnorePatterns: []string{"node_modules"}})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, ok := store.Get("/node_modules"); ok {
		t.Error("node_modules should be excluded by ignore pattern")
	}
}

func TestLookAwayArmsSuppressionDeadline(t *testing.T) {
	w, _, _, _ := newTestWatcher(t, Options{PollInterval: time.Hour})

	if w.suppressed() {
		t.Fatal("watcher should not be suppressed before LookAway")
	}
	w.LookAway()
	if !w.suppressed() {
		t.Error("watcher should be suppressed immediately after LookAway")
	}
}

func TestRescanDetectsNewFileAndEmitsUpdateAll(t *testing.T) {
	w, store, r, root := newTestWatcher(t, Options{PollInterval: time.Hour})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, "new.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.runScan()

	rootEntry, _ := store.Get("/")
	if rootEntry.Files["new.txt"].Size != 5 {
		t.Errorf("new.txt not indexed: %+v", rootEntry.Files)
	}
	if r.alls == 0 {
		t.Error("expected at least one updateall after rescan")
	}
}

func TestRescanRemovesDeletedDir(t *testing.T) {
	w, store, _, root := newTestWatcher(t, Options{PollInterval: time.Hour})
	if err := os.Mkdir(filepath.Join(root, "gone"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, ok := store.Get("/gone"); !ok {
		t.Fatal("/gone should be indexed after initial scan")
	}

	if err := os.RemoveAll(filepath.Join(root, "gone")); err != nil {
		t.Fatal(err)
	}
	w.runScan()

	if _, ok := store.Get("/gone"); ok {
		t.Error("/gone should be removed after rescan")
	}
}

package treeindex

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/canopyfs/canopy/internal/vpath"
)

// Store holds the index: a map of virtual directory path to DirEntry, per
// spec §3/§4.3. All access happens under the readers-writer discipline of
// spec §5: queries take a read lock (Get and Paths on Store itself),
// while mutation-engine patches and watcher rescans take a single
// exclusive lock for the whole patch via Mutate.
type Store struct {
	mu   sync.RWMutex
	dirs map[string]*dirNode
}

// New creates an index with only the root directory populated, per the
// lifecycle in spec §3 ("The index is created empty at startup").
func New() *Store {
	s := &Store{dirs: make(map[string]*dirNode)}
	s.dirs["/"] = newDirNode(time.Time{})
	return s
}

// Get returns a snapshot of the DirEntry at p, or false if p is not in the
// index.
func (s *Store) Get(p string) (DirEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.dirs[p]
	if !ok {
		return DirEntry{}, false
	}
	return n.snapshot(p), true
}

// Paths returns every directory path currently in the index.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.dirs))
	for p := range s.dirs {
		paths = append(paths, p)
	}
	return paths
}

// Mutate runs fn with exclusive access to the index, following spec §5
// ("Mutation-engine operations and rescan batches acquire exclusive access
// for the duration of the in-memory patch"). fn receives a Txn whose
// methods assume the lock is already held; disk I/O must happen before
// Mutate is called, never inside fn.
func (s *Store) Mutate(fn func(*Txn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Txn{s: s})
}

// Txn is the set of low-level patches applied to an index under Store's
// write lock (spec §4.3). None of its methods lock; Store.Mutate holds the
// lock for the whole batch.
type Txn struct {
	s *Store
}

// HasDir reports whether p is a directory in the index.
func (t *Txn) HasDir(p string) bool {
	_, ok := t.s.dirs[p]
	return ok
}

// HasFile reports whether name is a file directly inside dir.
func (t *Txn) HasFile(dir, name string) bool {
	n, ok := t.s.dirs[dir]
	if !ok {
		return false
	}
	_, ok = n.files[name]
	return ok
}

// Paths returns every directory path currently in the index, under the
// held lock.
func (t *Txn) Paths() []string {
	paths := make([]string, 0, len(t.s.dirs))
	for p := range t.s.dirs {
		paths = append(paths, p)
	}
	return paths
}

// Get returns a snapshot of the DirEntry at p under the held lock.
func (t *Txn) Get(p string) (DirEntry, bool) {
	n, ok := t.s.dirs[p]
	if !ok {
		return DirEntry{}, false
	}
	return n.snapshot(p), true
}

// PutDir inserts or replaces a DirEntry with empty files and zero size.
func (t *Txn) PutDir(p string, mtime time.Time) {
	t.s.dirs[p] = newDirNode(mtime)
}

// PutFile inserts or overwrites a FileEntry, adding its size to the parent
// directory's local total. The rollup pass (RecomputeSizes) is the only
// authoritative ancestor fix-up (spec §4.3).
func (t *Txn) PutFile(dir, name string, size int64, mtime time.Time) {
	n, ok := t.s.dirs[dir]
	if !ok {
		n = newDirNode(mtime)
		t.s.dirs[dir] = n
	}
	if old, existed := n.files[name]; existed {
		n.size -= old.Size
	}
	n.files[name] = FileEntry{Size: size, ModTime: mtime}
	n.size += size
}

// RemoveDir deletes p and every entry whose path begins with p + "/".
func (t *Txn) RemoveDir(p string) {
	delete(t.s.dirs, p)
	prefix := p
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	for path := range t.s.dirs {
		if path != p && strings.HasPrefix(path, prefix) {
			delete(t.s.dirs, path)
		}
	}
}

// RemoveFile deletes a file entry and subtracts its size from the parent's
// local total.
func (t *Txn) RemoveFile(dir, name string) {
	n, ok := t.s.dirs[dir]
	if !ok {
		return
	}
	if f, existed := n.files[name]; existed {
		n.size -= f.Size
		delete(n.files, name)
	}
}

// RekeyDirSubtree relocates dirs[from] and every descendant to the `to`
// prefix by string substitution, per spec §4.3.
func (t *Txn) RekeyDirSubtree(from, to string) {
	fromPrefix := from
	if fromPrefix != "/" {
		fromPrefix += "/"
	}
	for path, n := range t.s.dirs {
		if path == from {
			delete(t.s.dirs, path)
			t.s.dirs[to] = n
			continue
		}
		if strings.HasPrefix(path, fromPrefix) {
			delete(t.s.dirs, path)
			newPath := to + "/" + strings.TrimPrefix(path, fromPrefix)
			t.s.dirs[newPath] = n
		}
	}
}

// RecomputeSizes is the only authoritative size computation (spec §4.3):
// a bottom-up, twice-pass rollup that is idempotent and tolerates any
// prior drift. First every directory's size is reset to the sum of its
// own files; then, deepest-first, each directory's size is folded into
// its parent's.
func (t *Txn) RecomputeSizes() {
	paths := make([]string, 0, len(t.s.dirs))
	for p := range t.s.dirs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return depth(paths[i]) > depth(paths[j]) })

	for _, p := range paths {
		n := t.s.dirs[p]
		var total int64
		for _, f := range n.files {
			total += f.Size
		}
		n.size = total
	}

	for _, p := range paths {
		if p == "/" {
			continue
		}
		n := t.s.dirs[p]
		parent := vpath.Dir(p)
		if pn, ok := t.s.dirs[parent]; ok {
			pn.size += n.size
		}
	}
}

func depth(p string) int {
	if p == "/" {
		return 0
	}
	return vpath.CountOccurences(p, "/")
}

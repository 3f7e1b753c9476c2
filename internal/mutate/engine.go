// Package mutate implements the mutation engine of spec §4.5: every
// operation performs disk I/O through an fsops.Backend first, then
// patches the in-memory index, then marks affected directories dirty on
// the update bus. It is grounded on the teacher's upload/delete handlers
// (fruitsalade/internal/api/handlers_files.go) generalized into typed,
// backend-agnostic operations.
package mutate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/canopyfs/canopy/internal/canopyerr"
	"github.com/canopyfs/canopy/internal/fsops"
	"github.com/canopyfs/canopy/internal/treeindex"
	"github.com/canopyfs/canopy/internal/updatebus"
	"github.com/canopyfs/canopy/internal/vpath"
)

// Suppressor arms the watcher's suppression window before a self-induced
// disk write, so the watcher doesn't re-observe it (spec §4.4, §4.5).
type Suppressor interface {
	LookAway()
}

// ClipboardKind selects clipboard's dispatch target.
type ClipboardKind int

const (
	Cut ClipboardKind = iota
	Copy
)

// Engine composes a Backend, an index Store, and an update Bus into the
// mutation operations of spec §4.5.
type Engine struct {
	backend  fsops.Backend
	mapper   *vpath.Mapper
	store    *treeindex.Store
	bus      *updatebus.Bus
	suppress Suppressor
}

// New constructs an Engine. suppress may be nil in tests that don't
// exercise the watcher.
func New(backend fsops.Backend, mapper *vpath.Mapper, store *treeindex.Store, bus *updatebus.Bus, suppress Suppressor) *Engine {
	return &Engine{backend: backend, mapper: mapper, store: store, bus: bus, suppress: suppress}
}

func (e *Engine) lookAway() {
	if e.suppress != nil {
		e.suppress.LookAway()
	}
}

func invalid(op, path string) error {
	return canopyerr.New(canopyerr.Invalid, op, path, nil)
}

// Mk creates an empty file if one doesn't already exist on disk, then
// unconditionally inserts a zero-size FileEntry, per the op table in
// spec §4.5.
func (e *Engine) Mk(path string) error {
	if !vpath.IsPathSane(path, false) {
		return invalid("mk", path)
	}
	real := e.mapper.AddFilesPath(path)

	e.lookAway()
	if _, err := e.backend.Stat(real); err != nil {
		if !canopyerr.Is(err, canopyerr.NotFound) {
			return err
		}
		w, err := e.backend.OpenWrite(real)
		if err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}

	dir, name := vpath.Dir(path), vpath.Base(path)
	now := time.Now()
	e.store.Mutate(func(tx *treeindex.Txn) {
		tx.PutFile(dir, name, 0, now)
		tx.RecomputeSizes()
	})
	e.bus.Update(dir)
	return nil
}

// Mkdir recursively creates a directory and inserts an empty DirEntry.
func (e *Engine) Mkdir(path string) error {
	if !vpath.IsPathSane(path, false) {
		return invalid("mkdir", path)
	}
	real := e.mapper.AddFilesPath(path)

	e.lookAway()
	if err := e.backend.Mkdir(real, true); err != nil {
		return err
	}

	now := time.Now()
	e.store.Mutate(func(tx *treeindex.Txn) {
		tx.PutDir(path, now)
		tx.RecomputeSizes()
	})
	e.bus.Update(vpath.Dir(path))
	return nil
}

// Del stats path to decide file vs. directory, removes it recursively on
// disk, and removes the matching index entry or subtree.
func (e *Engine) Del(path string) error {
	real := e.mapper.AddFilesPath(path)

	e.lookAway()
	info, err := e.backend.Stat(real)
	if err != nil {
		return err
	}

	if info.IsDir {
		if err := e.backend.Rmdir(real, true); err != nil {
			return err
		}
		e.store.Mutate(func(tx *treeindex.Txn) {
			tx.RemoveDir(path)
			tx.RecomputeSizes()
		})
	} else {
		if err := e.backend.Rm(real); err != nil {
			return err
		}
		dir, name := vpath.Dir(path), vpath.Base(path)
		e.store.Mutate(func(tx *treeindex.Txn) {
			tx.RemoveFile(dir, name)
			tx.RecomputeSizes()
		})
	}
	e.bus.Update(vpath.Dir(path))
	return nil
}

// Save overwrites path's content and updates its FileEntry size and
// mtime.
func (e *Engine) Save(path string, data []byte) error {
	if !vpath.IsPathSane(path, false) {
		return invalid("save", path)
	}
	real := e.mapper.AddFilesPath(path)

	e.lookAway()
	w, err := e.backend.OpenWrite(real)
	if err != nil {
		return err
	}
	if _, werr := w.Write(data); werr != nil {
		w.Close()
		return werr
	}
	if err := w.Close(); err != nil {
		return err
	}

	dir, name := vpath.Dir(path), vpath.Base(path)
	now := time.Now()
	e.store.Mutate(func(tx *treeindex.Txn) {
		tx.PutFile(dir, name, int64(len(data)), now)
		tx.RecomputeSizes()
	})
	e.bus.Update(dir)
	return nil
}

// Move renames src to dst, relocating a FileEntry or rekeying a
// DirEntry subtree.
func (e *Engine) Move(src, dst string) error {
	if err := validateRename(src, dst); err != nil {
		return err
	}
	realSrc, realDst := e.mapper.AddFilesPath(src), e.mapper.AddFilesPath(dst)

	e.lookAway()
	info, err := e.backend.Stat(realSrc)
	if err != nil {
		return err
	}
	if err := e.backend.Rename(realSrc, realDst); err != nil {
		return err
	}

	now := time.Now()
	if info.IsDir {
		e.store.Mutate(func(tx *treeindex.Txn) {
			tx.RekeyDirSubtree(src, dst)
			tx.RecomputeSizes()
		})
	} else {
		srcDir, srcName := vpath.Dir(src), vpath.Base(src)
		dstDir, dstName := vpath.Dir(dst), vpath.Base(dst)
		e.store.Mutate(func(tx *treeindex.Txn) {
			size := int64(0)
			if entry, ok := tx.Get(srcDir); ok {
				size = entry.Files[srcName].Size
			}
			tx.RemoveFile(srcDir, srcName)
			tx.PutFile(dstDir, dstName, size, now)
			tx.RecomputeSizes()
		})
	}
	e.bus.Update(vpath.Dir(src))
	e.bus.Update(vpath.Dir(dst))
	return nil
}

// Cp copies a single file, cloning its FileEntry with a fresh mtime.
func (e *Engine) Cp(src, dst string) error {
	if err := validateRename(src, dst); err != nil {
		return err
	}
	realSrc, realDst := e.mapper.AddFilesPath(src), e.mapper.AddFilesPath(dst)

	e.lookAway()
	if err := e.backend.CopyFile(realSrc, realDst); err != nil {
		return err
	}

	info, err := e.backend.Stat(realDst)
	if err != nil {
		return err
	}
	dstDir, dstName := vpath.Dir(dst), vpath.Base(dst)
	e.store.Mutate(func(tx *treeindex.Txn) {
		tx.PutFile(dstDir, dstName, info.Size, time.Now())
		tx.RecomputeSizes()
	})
	e.bus.Update(dstDir)
	return nil
}

// Cpdir recursively copies a directory tree, cloning every descendant
// DirEntry/FileEntry with a fresh mtime.
func (e *Engine) Cpdir(src, dst string) error {
	if err := validateRename(src, dst); err != nil {
		return err
	}
	realSrc, realDst := e.mapper.AddFilesPath(src), e.mapper.AddFilesPath(dst)

	e.lookAway()
	if err := e.backend.CopyDir(realSrc, realDst); err != nil {
		return err
	}

	now := time.Now()
	e.store.Mutate(func(tx *treeindex.Txn) {
		prefix := src
		if prefix != "/" {
			prefix += "/"
		}
		for _, p := range tx.Paths() {
			if p != src && !strings.HasPrefix(p, prefix) {
				continue
			}
			entry, ok := tx.Get(p)
			if !ok {
				continue
			}
			rel := strings.TrimPrefix(p, src)
			newPath := dst + rel
			tx.PutDir(newPath, now)
			for name, f := range entry.Files {
				tx.PutFile(newPath, name, f.Size, now)
			}
		}
		tx.RecomputeSizes()
	})
	e.bus.Update(vpath.Dir(dst))
	return nil
}

// Clipboard dispatches to move/cp or their directory variants based on
// the source's kind and kind (cut/copy), applying the collision
// resolver first.
func (e *Engine) Clipboard(src, dst string, kind ClipboardKind) error {
	realSrc := e.mapper.AddFilesPath(src)
	info, err := e.backend.Stat(realSrc)
	if err != nil {
		return err
	}

	dst = e.resolveCollision(vpath.Dir(dst), vpath.Base(dst), src == dst)

	switch {
	case kind == Cut:
		return e.Move(src, dst)
	case info.IsDir:
		return e.Cpdir(src, dst)
	default:
		return e.Cp(src, dst)
	}
}

// resolveCollision returns name unchanged unless it collides with an
// existing path in dir (or forceResolve is set for a self-paste), in
// which case it derives "name-2", "name-3", ... until unique (the
// unsuffixed name counts as occupying slot 1, so no resolved name ever
// ends in "-1").
func (e *Engine) resolveCollision(dir, name string, forceResolve bool) string {
	if !forceResolve && !e.nameExists(dir, name) {
		return vpath.Join(dir, name)
	}
	base, ext := splitExt(name)
	base, n := trimTrailingNumber(base)
	for {
		n++
		candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
		if !e.nameExists(dir, candidate) {
			return vpath.Join(dir, candidate)
		}
	}
}

func (e *Engine) nameExists(dir, name string) bool {
	if d, ok := e.store.Get(dir); ok {
		if _, ok := d.Files[name]; ok {
			return true
		}
	}
	_, isDir := e.store.Get(vpath.Join(dir, name))
	return isDir
}

func splitExt(name string) (base, ext string) {
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		return name[:idx], name[idx:]
	}
	return name, ""
}

var trailingNumberRe = regexp.MustCompile(`^(.*)-(\d+)$`)

func trimTrailingNumber(base string) (string, int) {
	m := trailingNumberRe.FindStringSubmatch(base)
	if m == nil {
		// The unsuffixed name occupies slot 1, so the first generated
		// suffix is -2 (spec: resolved destinations are never -1).
		return base, 1
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return base, 0
	}
	return m[1], n
}

var blankRe = regexp.MustCompile(`^\s*$`)

// validateRename enforces spec §4.5's rename validation: path sanity on
// both sides, a non-blank destination, destination != source, and no
// directory pasted into its own subtree.
func validateRename(src, dst string) error {
	if !vpath.IsPathSane(src, false) || !vpath.IsPathSane(dst, false) {
		return invalid("move", src)
	}
	if blankRe.MatchString(dst) {
		return invalid("move", dst)
	}
	if dst == src {
		return invalid("move", dst)
	}
	if strings.HasPrefix(dst, src+"/") {
		return invalid("move", dst)
	}
	return nil
}

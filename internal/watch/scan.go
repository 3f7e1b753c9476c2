package watch

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/canopyfs/canopy/internal/logging"
	"github.com/canopyfs/canopy/internal/treeindex"
	"github.com/canopyfs/canopy/internal/vpath"
)

// scanResult is the flattened outcome of walking the real filesystem,
// partitioned into directories and files the way spec §4.4 describes.
type scanResult struct {
	dirs  map[string]time.Time             // virtual dir path -> mtime
	files map[string]map[string]fileStat   // virtual dir path -> name -> stat
}

type fileStat struct {
	size  int64
	mtime time.Time
}

// walk performs a recursive directory read honoring ignore patterns and
// following symlinks, per spec §4.4. A single unreadable subdirectory is
// logged and skipped, not fatal (spec §7).
func walk(mapper *vpath.Mapper, ignore ignoreMatcher) scanResult {
	result := scanResult{
		dirs:  make(map[string]time.Time),
		files: make(map[string]map[string]fileStat),
	}
	root := mapper.Root()
	walkDir(mapper, ignore, root, &result)
	return result
}

func walkDir(mapper *vpath.Mapper, ignore ignoreMatcher, realDir string, result *scanResult) {
	virtual := mapper.RemoveFilesPath(realDir)
	info, err := os.Stat(realDir)
	if err != nil {
		logging.Warn("rescan: stat failed, skipping", logging.String("path", realDir), logging.Err(err))
		return
	}
	result.dirs[virtual] = info.ModTime()
	result.files[virtual] = make(map[string]fileStat)

	entries, err := os.ReadDir(realDir)
	if err != nil {
		logging.Warn("rescan: read dir failed, skipping", logging.String("path", realDir), logging.Err(err))
		return
	}

	for _, entry := range entries {
		childReal := filepath.Join(realDir, entry.Name())
		childVirtual := vpath.Join(virtual, entry.Name())
		if ignore != nil && ignore.MatchesPath(childVirtual) {
			continue
		}

		fi, err := os.Stat(childReal) // follows symlinks
		if err != nil {
			logging.Warn("rescan: stat child failed, skipping", logging.String("path", childReal), logging.Err(err))
			continue
		}

		if fi.IsDir() {
			walkDir(mapper, ignore, childReal, result)
			continue
		}
		result.files[virtual][entry.Name()] = fileStat{size: fi.Size(), mtime: fi.ModTime()}
	}
}

type ignoreMatcher interface {
	MatchesPath(path string) bool
}

// applyScan patches the index to match a scan result and reports which
// directories actually changed, for dirtying on the update bus. It
// removes any directory previously under scanRoot that the scan no longer
// found, satisfying invariant (1)/(3) even after deletions made
// out-of-band.
func applyScan(store *treeindex.Store, scanRoot string, result scanResult) []string {
	var dirty []string

	store.Mutate(func(tx *treeindex.Txn) {
		before := make(map[string]treeindex.DirEntry)
		for p := range result.dirs {
			if e, ok := tx.Get(p); ok {
				before[p] = e
			}
		}
		existingUnderRoot := collectUnderRoot(tx, scanRoot)

		for dirPath, mtime := range result.dirs {
			old, existed := before[dirPath]
			tx.PutDir(dirPath, mtime)
			for name, fs := range result.files[dirPath] {
				tx.PutFile(dirPath, name, fs.size, fs.mtime)
			}
			if !existed || dirContentChanged(old, result.files[dirPath]) {
				dirty = append(dirty, dirPath)
			}
		}

		for _, p := range existingUnderRoot {
			if _, stillPresent := result.dirs[p]; !stillPresent {
				tx.RemoveDir(p)
				dirty = append(dirty, p)
			}
		}

		tx.RecomputeSizes()
	})

	return dirty
}

func collectUnderRoot(tx *treeindex.Txn, root string) []string {
	prefix := root
	if prefix != "/" {
		prefix += "/"
	}
	var out []string
	for _, p := range tx.Paths() {
		if p == root || strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func dirContentChanged(old treeindex.DirEntry, newFiles map[string]fileStat) bool {
	if len(old.Files) != len(newFiles) {
		return true
	}
	for name, fs := range newFiles {
		prev, ok := old.Files[name]
		if !ok || prev.Size != fs.size || !prev.ModTime.Equal(fs.mtime) {
			return true
		}
	}
	return false
}

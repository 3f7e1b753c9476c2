// Package query implements the read-only surface of spec §4.7: ls,
// lsFilter, and search, all built on treeindex.Store's shared-lock reads.
package query

import (
	"regexp"
	"strings"

	"github.com/canopyfs/canopy/internal/treeindex"
	"github.com/canopyfs/canopy/internal/vpath"
)

// Ls returns entries for the files and immediate child directories of p.
// The result is undefined (empty) if p is not in the index.
func Ls(store *treeindex.Store, p string) map[string]string {
	dir, ok := store.Get(p)
	if !ok {
		return map[string]string{}
	}
	items := namedEntriesFor(store, p, dir)
	return treeindex.Entries(items, "")
}

// LsFilter returns the names of files directly in p whose name matches
// pattern.
func LsFilter(store *treeindex.Store, p string, pattern *regexp.Regexp) []string {
	dir, ok := store.Get(p)
	if !ok {
		return nil
	}
	var out []string
	for name := range dir.Files {
		if pattern.MatchString(name) {
			out = append(out, name)
		}
	}
	return out
}

// Search performs a case-insensitive substring match of query against
// every path with scope as a prefix (scope itself excluded), returning
// entries relative to scope, or nil when nothing matches.
func Search(store *treeindex.Store, query, scope string) map[string]string {
	needle := strings.ToLower(query)
	var items []treeindex.NamedEntry

	for _, p := range store.Paths() {
		if p != scope && !isUnder(p, scope) {
			continue
		}
		dir, ok := store.Get(p)
		if !ok {
			continue
		}
		if p != scope && strings.Contains(strings.ToLower(vpath.Base(p)), needle) {
			items = append(items, treeindex.NamedEntry{Path: p, IsDir: true, Size: dir.Size, ModTime: dir.ModTime})
		}
		for name, f := range dir.Files {
			if strings.Contains(strings.ToLower(name), needle) {
				items = append(items, treeindex.NamedEntry{
					Path:    vpath.Join(p, name),
					IsDir:   false,
					Size:    f.Size,
					ModTime: f.ModTime,
				})
			}
		}
	}

	if len(items) == 0 {
		return nil
	}
	return treeindex.Entries(items, scope)
}

func isUnder(p, scope string) bool {
	if scope == "/" {
		return p != "/"
	}
	return strings.HasPrefix(p, scope+"/")
}

func namedEntriesFor(store *treeindex.Store, p string, dir treeindex.DirEntry) []treeindex.NamedEntry {
	var items []treeindex.NamedEntry
	for name, f := range dir.Files {
		items = append(items, treeindex.NamedEntry{
			Path:    vpath.Join(p, name),
			IsDir:   false,
			Size:    f.Size,
			ModTime: f.ModTime,
		})
	}
	for _, child := range store.Paths() {
		if vpath.Dir(child) == p && child != p {
			childDir, ok := store.Get(child)
			if !ok {
				continue
			}
			items = append(items, treeindex.NamedEntry{
				Path:    child,
				IsDir:   true,
				Size:    childDir.Size,
				ModTime: childDir.ModTime,
			})
		}
	}
	return items
}

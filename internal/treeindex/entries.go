package treeindex

import (
	"fmt"
	"strings"
	"time"
)

// NamedEntry is one file or directory about to be serialized into the wire
// format of spec §4.3/§6.
type NamedEntry struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Entries produces the wire mapping from display name to
// "<kind>|<mtime-seconds>|<size>" (spec §4.3, §6). Display name is the
// basename, or, if relativeBase is non-empty, the path relative to that
// base — used by search.
func Entries(items []NamedEntry, relativeBase string) map[string]string {
	out := make(map[string]string, len(items))
	for _, it := range items {
		name := displayName(it.Path, relativeBase)
		kind := "f"
		if it.IsDir {
			kind = "d"
		}
		out[name] = fmt.Sprintf("%s|%d|%d", kind, it.ModTime.Unix(), it.Size)
	}
	return out
}

func displayName(path, relativeBase string) string {
	if relativeBase == "" {
		if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
			return path[idx+1:]
		}
		return path
	}
	rel := strings.TrimPrefix(path, relativeBase)
	return strings.TrimPrefix(rel, "/")
}

package query

import (
	"regexp"
	"testing"
	"time"

	"github.com/canopyfs/canopy/internal/treeindex"
)

func seed(t *testing.T) *treeindex.Store {
	t.Helper()
	s := treeindex.New()
	mt := time.Unix(1700000000, 0)
	s.Mutate(func(tx *treeindex.Txn) {
		tx.PutDir("/a", mt)
		tx.PutDir("/a/b", mt)
		tx.PutDir("/c", mt)
		tx.PutFile("/a", "f1", 10, mt)
		tx.PutFile("/a/b", "f2", 20, mt)
		tx.PutFile("/c", "f3", 5, mt)
		tx.RecomputeSizes()
	})
	return s
}

func TestLsListsFilesAndChildDirs(t *testing.T) {
	s := seed(t)
	got := Ls(s, "/a")
	if _, ok := got["f1"]; !ok {
		t.Errorf("missing f1: %+v", got)
	}
	if _, ok := got["b"]; !ok {
		t.Errorf("missing child dir b: %+v", got)
	}
}

func TestLsUnknownPathIsEmpty(t *testing.T) {
	s := seed(t)
	got := Ls(s, "/nope")
	if len(got) != 0 {
		t.Errorf("expected empty result, got %+v", got)
	}
}

func TestLsFilterMatchesName(t *testing.T) {
	s := seed(t)
	got := LsFilter(s, "/a", regexp.MustCompile(`^f`))
	if len(got) != 1 || got[0] != "f1" {
		t.Errorf("expected [f1], got %v", got)
	}
}

func TestSearchExcludesScopeItself(t *testing.T) {
	s := treeindex.New()
	mt := time.Unix(1700000000, 0)
	s.Mutate(func(tx *treeindex.Txn) {
		tx.PutDir("/match", mt)
		tx.RecomputeSizes()
	})
	got := Search(s, "match", "/match")
	if got != nil {
		t.Errorf("scope itself should be excluded, got %+v", got)
	}
}

func TestSearchFindsNestedFile(t *testing.T) {
	s := seed(t)
	got := Search(s, "f2", "/a")
	if got == nil {
		t.Fatal("expected a match for f2")
	}
	if _, ok := got["b/f2"]; !ok {
		t.Errorf("expected relative key b/f2, got %+v", got)
	}
}

func TestSearchNoMatchReturnsNil(t *testing.T) {
	s := seed(t)
	got := Search(s, "doesnotexist", "/")
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

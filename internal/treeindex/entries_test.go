package treeindex

import (
	"testing"
	"time"
)

func TestEntriesWireFormat(t *testing.T) {
	mt := time.Unix(1000, 0)
	items := []NamedEntry{
		{Path: "/a/f1", IsDir: false, Size: 10, ModTime: mt},
		{Path: "/a/b", IsDir: true, Size: 20, ModTime: mt},
	}
	got := Entries(items, "")
	if got["f1"] != "f|1000|10" {
		t.Errorf("f1 = %q", got["f1"])
	}
	if got["b"] != "d|1000|20" {
		t.Errorf("b = %q", got["b"])
	}
}

func TestEntriesRelativeBase(t *testing.T) {
	mt := time.Unix(1000, 0)
	items := []NamedEntry{
		{Path: "/a/b/deep.txt", Size: 1, ModTime: mt},
	}
	got := Entries(items, "/a")
	if _, ok := got["b/deep.txt"]; !ok {
		t.Errorf("expected relative key, got %+v", got)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	clearEnv(t, "JWT_SECRET")
	if _, err := Load(); err == nil {
		t.Error("expected error when JWT_SECRET is unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "JWT_SECRET", "LISTEN_ADDR", "DEBOUNCE_WINDOW")
	os.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DebounceWindow != 100*time.Millisecond {
		t.Errorf("DebounceWindow = %v", cfg.DebounceWindow)
	}
}

func TestLoadIgnorePatternsSkipsCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ignore")
	content := "# comment\n\nnode_modules\n*.tmp\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	patterns, err := LoadIgnorePatterns(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 2 || patterns[0] != "node_modules" || patterns[1] != "*.tmp" {
		t.Errorf("unexpected patterns: %v", patterns)
	}
}

func TestLoadIgnorePatternsEmptyPath(t *testing.T) {
	patterns, err := LoadIgnorePatterns("")
	if err != nil || patterns != nil {
		t.Errorf("expected nil, nil; got %v, %v", patterns, err)
	}
}

package cli

import (
	"path/filepath"
	"testing"

	"steward/session"
)

func TestDBPathFlagWinsOverEnvironment(t *testing.T) {
	t.Setenv("STEWARD_DB", "/tmp/env.db")

	if got := dbPath(Options{DBPath: "/tmp/flag.db"}); got != "/tmp/flag.db" {
		t.Errorf("expected flag path to win, got %q", got)
	}
	if got := dbPath(Options{}); got != "/tmp/env.db" {
		t.Errorf("expected environment fallback, got %q", got)
	}

	t.Setenv("STEWARD_DB", "")
	if got := dbPath(Options{}); got != "" {
		t.Errorf("expected empty path with neither flag nor env, got %q", got)
	}
}

func TestOpenSessionStoreEmptyPathKeepsSessionsInMemory(t *testing.T) {
	store, err := openSessionStore("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*session.MemoryStore); !ok {
		t.Errorf("expected in-memory store for empty path, got %T", store)
	}
}

func TestOpenSessionStorePathOpensSqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.db")
	store, err := openSessionStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*session.SqliteStore); !ok {
		t.Errorf("expected sqlite store for %q, got %T", path, store)
	}
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestNewStoreMemory(t *testing.T) {
	for _, kind := range []string{"", KindMemory} {
		store, err := NewStore(kind, "")
		if err != nil {
			t.Fatalf("new store %q: %v", kind, err)
		}
		if _, ok := store.(*MemoryStore); !ok {
			t.Fatalf("kind %q: expected memory store, got %T", kind, store)
		}
		if err := CloseIfSupported(store); err != nil {
			t.Fatalf("close memory store: %v", err)
		}
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("postgres", "")
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
	if err := ValidKind(KindSQLite); err != nil {
		t.Fatalf("sqlite kind should be valid in every build: %v", err)
	}
}

func TestNewStoreSQLiteFollowsBuildTag(t *testing.T) {
	store, err := NewStore(KindSQLite, filepath.Join(t.TempDir(), "seismic.db"))
	if !SQLiteAvailable {
		if err == nil {
			t.Fatal("expected sqlite to be unavailable without the build tag")
		}
		return
	}
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = CloseIfSupported(store)
	})
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init sqlite store: %v", err)
	}
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	ctx := context.Background()
	content := []byte("hello blob")

	if err := store.Put(ctx, "abc123.txt", bytes.NewReader(content), int64(len(content)), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := store.Open(ctx, "abc123.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
	if err := store.Delete(ctx, "abc123.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, "abc123.txt"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("open after delete: expected ErrBlobNotFound, got %v", err)
	}
}

func TestDiskStoreNeverReusesStoredNames(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, "name.txt", strings.NewReader("first"), 5, "text/plain"); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := store.Put(ctx, "name.txt", strings.NewReader("second"), 6, "text/plain"); err == nil {
		t.Fatalf("expected second put with same stored name to fail")
	}
}

func TestDiskStoreRejectsPathTraversal(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"../escape.txt", "a/b.txt", "", ".hidden"} {
		if err := store.Put(ctx, name, strings.NewReader("x"), 1, "text/plain"); err == nil {
			t.Fatalf("expected put with stored name %q to fail", name)
		}
	}
}

func TestDiskStoreDeleteMissingBlob(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	if err := store.Delete(context.Background(), "never-stored.txt"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}

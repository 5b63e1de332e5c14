package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, Config{Provider: "local", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data := []byte{0xff, 0xd8, 0x01, 0x02}
	if err := store.Put(ctx, "snapshots/event-1.jpg", bytes.NewReader(data), int64(len(data)), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ok, err := store.Exists(ctx, "snapshots/event-1.jpg")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}

	rc, err := store.Get(ctx, "snapshots/event-1.jpg")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("Get() = %v, want %v", got, data)
	}

	if err := store.Delete(ctx, "snapshots/event-1.jpg"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "snapshots/event-1.jpg"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if ok, _ := store.Exists(ctx, "snapshots/event-1.jpg"); ok {
		t.Fatal("object still exists after Delete")
	}
	if _, err := store.Get(ctx, "snapshots/event-1.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete = %v, want ErrNotFound", err)
	}
}

func TestLocalKeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	p, err := store.path("../../etc/passwd")
	if err != nil {
		t.Fatalf("path() error = %v", err)
	}
	if !bytes.HasPrefix([]byte(p), []byte(root)) {
		t.Fatalf("path escaped root: %s", p)
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "ftp"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

package mediastore

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskStore(t *testing.T) {
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	hash := "ab12cd34"

	t.Run("PutAndOpen", func(t *testing.T) {
		if err := store.Put(strings.NewReader("voice note bytes"), hash); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		r, err := store.Open(hash)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer r.Close()

		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}
		if string(data) != "voice note bytes" {
			t.Errorf("unexpected blob content: %q", data)
		}
	})

	t.Run("PutIsIdempotent", func(t *testing.T) {
		if err := store.Put(strings.NewReader("different bytes"), hash); err != nil {
			t.Fatalf("second Put failed: %v", err)
		}

		r, err := store.Open(hash)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer r.Close()

		data, _ := io.ReadAll(r)
		if string(data) != "voice note bytes" {
			t.Errorf("second Put overwrote the blob: %q", data)
		}
	})

	t.Run("Sharding", func(t *testing.T) {
		r, err := store.Open(hash)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		r.Close()

		if _, err := os.Stat(filepath.Join(store.root, "ab", hash)); err != nil {
			t.Errorf("blob not stored under two-character shard: %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if err := store.Remove(hash); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if _, err := store.Open(hash); err == nil {
			t.Error("Open succeeded after Remove")
		}
		if err := store.Remove(hash); err != nil {
			t.Errorf("Remove of missing blob returned error: %v", err)
		}
	})
}

package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFSStorageRoundTrip checks that any stored object is read back intact
// and disappears after deletion.
func TestFSStorageRoundTrip(t *testing.T) {
	storage, err := NewFSStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStorage() error: %v", err)
	}
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	genKey := gen.Identifier().Map(func(s string) string {
		return "run-" + s + "/prog-linux-x86_64.zip"
	})

	properties.Property("Put then Get returns the same bytes", prop.ForAll(
		func(key string, data []byte) bool {
			if err := storage.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
				return false
			}

			r, err := storage.Get(ctx, key)
			if err != nil {
				return false
			}
			defer r.Close()

			got, err := io.ReadAll(r)
			if err != nil {
				return false
			}
			return bytes.Equal(got, data)
		},
		genKey,
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("Delete removes the object", prop.ForAll(
		func(key string, data []byte) bool {
			if err := storage.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
				return false
			}
			if err := storage.Delete(ctx, key); err != nil {
				return false
			}
			exists, err := storage.Exists(ctx, key)
			if err != nil || exists {
				return false
			}
			_, err = storage.Get(ctx, key)
			return errors.Is(err, ErrNotFound)
		},
		genKey,
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestFSStorageRejectsTraversal(t *testing.T) {
	storage, err := NewFSStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStorage() error: %v", err)
	}

	for _, key := range []string{"", "../escape.zip", "/abs/path.zip", "a/../../b.zip"} {
		if err := storage.Put(context.Background(), key, bytes.NewReader(nil), 0); err == nil {
			t.Errorf("Put(%q) accepted an invalid key", key)
		}
	}
}

func TestFSStorageSizeMismatch(t *testing.T) {
	storage, err := NewFSStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStorage() error: %v", err)
	}

	data := []byte("archive bytes")
	err = storage.Put(context.Background(), "run/a.zip", bytes.NewReader(data), int64(len(data)+5))
	if err == nil {
		t.Fatal("Put() accepted a size mismatch")
	}
}

package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/docstore/pkg/doccache"
	"github.com/calvinalkan/docstore/pkg/docstore"
	"github.com/calvinalkan/docstore/pkg/docstore/local"
	"github.com/calvinalkan/docstore/pkg/filelock"
	"github.com/calvinalkan/docstore/pkg/fs"
	"github.com/calvinalkan/docstore/pkg/uid"
)

var idA = uid.MustParse("01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func openStorage(t *testing.T, path string, opts local.Options) *docstore.Storage {
	t.Helper()

	b, err := local.New(path, opts)
	if err != nil {
		t.Fatalf("local.New(%q): err=%v", path, err)
	}

	s, err := docstore.New(b, docstore.Options{})
	if err != nil {
		t.Fatalf("docstore.New: err=%v", err)
	}

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open(%q): err=%v", path, err)
	}

	return s
}

func Test_Local_Persists_Documents_When_Reopened(t *testing.T) {
	t.Parallel()

	for _, name := range doccache.CodecNames() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "store.db")

			codec, err := doccache.CodecByName(name)
			if err != nil {
				t.Fatalf("CodecByName: err=%v", err)
			}

			s := openStorage(t, path, local.Options{Codec: codec})

			if err := s.Put(ctx, idA, "first", []byte("first_entry")); err != nil {
				t.Fatalf("Put: err=%v", err)
			}

			if err := s.Close(ctx, docstore.CloseOptions{}); err != nil {
				t.Fatalf("Close: err=%v", err)
			}

			if _, err := os.Stat(filelock.MarkerPath(path)); !os.IsNotExist(err) {
				t.Fatalf("marker after Close: stat err=%v, want not exist", err)
			}

			s = openStorage(t, path, local.Options{Codec: codec})
			defer s.Close(ctx, docstore.CloseOptions{})

			got, found, err := s.Get(ctx, idA, "first")
			if err != nil || !found || string(got) != "first_entry" {
				t.Fatalf("Get after reopen=%q, %v, %v, want first_entry, true, nil", got, found, err)
			}
		})
	}
}

func Test_Local_Opens_Empty_Store_When_File_Is_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.db")

	s := openStorage(t, path, local.Options{})

	n, err := s.Count(ctx, idA)
	if err != nil || n != 0 {
		t.Fatalf("Count=%d, %v, want 0, nil", n, err)
	}

	if err := s.Close(ctx, docstore.CloseOptions{}); err != nil {
		t.Fatalf("Close: err=%v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written on Close: %v", err)
	}
}

func Test_Local_Open_Returns_ErrLockUnavailable_When_Another_Holder_Has_It(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	first := openStorage(t, path, local.Options{})

	b, err := local.New(path, local.Options{})
	if err != nil {
		t.Fatalf("local.New: err=%v", err)
	}

	if err := b.Open(ctx); !errors.Is(err, docstore.ErrLockUnavailable) {
		t.Fatalf("second Open: err=%v, want %v", err, docstore.ErrLockUnavailable)
	}

	if err := first.Close(ctx, docstore.CloseOptions{}); err != nil {
		t.Fatalf("Close: err=%v", err)
	}

	b, _ = local.New(path, local.Options{})
	if err := b.Open(ctx); err != nil {
		t.Fatalf("Open after release: err=%v", err)
	}

	_ = b.Close(ctx, docstore.CloseOptions{})
}

func Test_Local_Open_Returns_Error_And_Releases_Lock_When_Snapshot_Is_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.db")
	if err := os.WriteFile(path, []byte("{garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, _ := local.New(path, local.Options{})

	err := b.Open(context.Background())
	if !errors.Is(err, doccache.ErrCorrupt) {
		t.Fatalf("Open: err=%v, want %v", err, doccache.ErrCorrupt)
	}

	locked, err := local.Locked(nil, path)
	if err != nil || locked {
		t.Fatalf("Locked=%v, %v, want false, nil", locked, err)
	}
}

func Test_BreakLock_Removes_Marker_When_Holder_Crashed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	// A holder that never closes.
	_ = openStorage(t, path, local.Options{})

	locked, err := local.Locked(nil, path)
	if err != nil || !locked {
		t.Fatalf("Locked=%v, %v, want true, nil", locked, err)
	}

	if err := local.BreakLock(nil, path); err != nil {
		t.Fatalf("BreakLock: err=%v", err)
	}

	s := openStorage(t, path, local.Options{})
	_ = s.Close(ctx, docstore.CloseOptions{})
}

// failingRenameFS fails every rename so atomic writes cannot commit.
type failingRenameFS struct {
	*fs.Real
}

var errInjected = errors.New("injected rename failure")

func (failingRenameFS) Rename(string, string) error {
	return errInjected
}

func Test_Local_Leaves_Previous_Snapshot_When_Write_Fails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	s := openStorage(t, path, local.Options{})
	_ = s.Put(ctx, idA, "k", []byte("committed"))

	if err := s.Close(ctx, docstore.CloseOptions{}); err != nil {
		t.Fatalf("Close: err=%v", err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	s = openStorage(t, path, local.Options{FS: failingRenameFS{fs.NewReal()}})
	_ = s.Put(ctx, idA, "k", []byte("lost"))

	err = s.Sync(ctx, docstore.SyncOptions{})
	if !errors.Is(err, docstore.ErrTransport) || !errors.Is(err, errInjected) {
		t.Fatalf("Sync: err=%v, want %v wrapping %v", err, docstore.ErrTransport, errInjected)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if string(after) != string(before) {
		t.Fatalf("snapshot changed after failed write: %q, want %q", after, before)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if e.Name() != "store.db" && e.Name() != "store.db.lock" {
			t.Fatalf("leftover file %q after failed write", e.Name())
		}
	}

	// Close still releases the lock even though its sync fails.
	if err := s.Close(ctx, docstore.CloseOptions{}); err == nil {
		t.Fatal("Close: err=nil, want sync failure")
	}

	if locked, _ := local.Locked(nil, path); locked {
		t.Fatal("marker left behind after failed Close")
	}
}

func Test_Local_Releases_Lock_When_Caller_Panics_Inside_WithStorage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")

	b, err := local.New(path, local.Options{})
	if err != nil {
		t.Fatalf("local.New: err=%v", err)
	}

	func() {
		defer func() { _ = recover() }()

		_ = docstore.WithStorage(context.Background(), b, docstore.Options{}, func(s *docstore.Storage) error {
			if err := s.Put(context.Background(), idA, "k", []byte("v")); err != nil {
				t.Errorf("Put: err=%v", err)
			}

			panic("boom")
		})
	}()

	locked, err := local.Locked(nil, path)
	if err != nil || locked {
		t.Fatalf("Locked()=%v, %v, want false, nil", locked, err)
	}

	s := openStorage(t, path, local.Options{})

	data, found, err := s.Get(context.Background(), idA, "k")
	if err != nil || !found || string(data) != "v" {
		t.Fatalf("Get()=%q, %v, %v, want \"v\", true, nil", data, found, err)
	}
}

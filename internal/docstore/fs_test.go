package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func setupTestStore(t *testing.T, files map[string]string) *FSStore {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(fsys, name, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
	}
	return New(fsys)
}

func TestFSStore_Read(t *testing.T) {
	store := setupTestStore(t, map[string]string{"/notes.txt": "hello"})

	doc, err := store.Read(context.Background(), "/notes.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.Content != "hello" {
		t.Errorf("Content = %q, want %q", doc.Content, "hello")
	}
	if doc.Options.ReadOnly {
		t.Error("expected writable document")
	}
}

func TestFSStore_ReadRelativePath(t *testing.T) {
	store := setupTestStore(t, map[string]string{"/dir/a.txt": "a"})

	doc, err := store.Read(context.Background(), "dir/a.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.Content != "a" {
		t.Errorf("Content = %q, want a", doc.Content)
	}
}

func TestFSStore_ReadErrors(t *testing.T) {
	store := setupTestStore(t, map[string]string{"/dir/a.txt": "a"})

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", "/missing.txt", ErrNotFound},
		{"directory", "/dir", ErrIsDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Read(context.Background(), tt.path)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var pathErr *PathError
			if !errors.As(err, &pathErr) || pathErr.Op != "read" {
				t.Errorf("err = %#v, want *PathError with Op read", err)
			}
		})
	}

	if !IsNotFound(func() error { _, err := store.Read(context.Background(), "/nope"); return err }()) {
		t.Error("IsNotFound should match a missing document")
	}
}

func TestFSStore_ReadTooLarge(t *testing.T) {
	fsys := afero.NewMemMapFs()
	afero.WriteFile(fsys, "/big.txt", make([]byte, 64), 0o644)
	store := New(fsys, WithMaxFileSize(16))

	if _, err := store.Read(context.Background(), "/big.txt"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestFSStore_ReadOnlyOption(t *testing.T) {
	fsys := afero.NewMemMapFs()
	afero.WriteFile(fsys, "/locked.txt", []byte("x"), 0o444)
	store := New(fsys)

	doc, err := store.Read(context.Background(), "/locked.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !doc.Options.ReadOnly {
		t.Error("expected read-only document for mode 0444")
	}
}

func TestFSStore_Write(t *testing.T) {
	store := setupTestStore(t, nil)
	ctx := context.Background()

	if err := store.Write(ctx, "/deep/nested/file.txt", "content"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	doc, err := store.Read(ctx, "/deep/nested/file.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.Content != "content" {
		t.Errorf("Content = %q, want content", doc.Content)
	}

	if err := store.Write(ctx, "/deep", "x"); !errors.Is(err, ErrIsDirectory) {
		t.Errorf("Write to directory err = %v, want ErrIsDirectory", err)
	}
}

func TestFSStore_WriteReadOnlyFs(t *testing.T) {
	store := New(afero.NewReadOnlyFs(afero.NewMemMapFs()))

	if err := store.Write(context.Background(), "/a.txt", "x"); err == nil {
		t.Error("expected error writing to a read-only filesystem")
	}
}

func TestFSStore_CancelledContext(t *testing.T) {
	store := setupTestStore(t, map[string]string{"/a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Read(ctx, "/a.txt"); !errors.Is(err, context.Canceled) {
		t.Errorf("Read err = %v, want context.Canceled", err)
	}
	if err := store.Write(ctx, "/a.txt", "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("Write err = %v, want context.Canceled", err)
	}
}

func TestFSStore_WatchNotify(t *testing.T) {
	store := setupTestStore(t, map[string]string{"/a.txt": "a", "/b.txt": "b"})

	type note struct {
		path string
		kind Kind
	}
	var got []note
	record := func(p string, k Kind) { got = append(got, note{p, k}) }

	ha, err := store.Watch("/a.txt", record)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := store.Watch("b.txt", record); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	store.Notify("/a.txt", Changed)
	store.Notify("/other.txt", Changed)
	store.Notify("", Disconnected)

	want := []note{
		{"/a.txt", Changed},
		{"/a.txt", Disconnected},
		{"/b.txt", Disconnected},
	}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if err := store.Unwatch("/a.txt", ha); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}
	if err := store.Unwatch("/a.txt", ha); !errors.Is(err, ErrNotWatching) {
		t.Errorf("second Unwatch err = %v, want ErrNotWatching", err)
	}
	if store.Watching("/a.txt") != 0 {
		t.Errorf("Watching = %d, want 0", store.Watching("/a.txt"))
	}
}

func TestFSStore_WatchValidation(t *testing.T) {
	store := setupTestStore(t, nil)

	if _, err := store.Watch("/a.txt", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("err = %v, want ErrNilHandler", err)
	}

	store.Close()
	if _, err := store.Watch("/a.txt", func(string, Kind) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestFSStore_List(t *testing.T) {
	store := setupTestStore(t, map[string]string{
		"/b.txt":                "",
		"/a/c.txt":              "",
		"/.git/HEAD":            "",
		"/node_modules/x/y.js":  "",
		"/src/main.go":          "",
		"/src/main.go.swp":      "",
		"/.docsession/state.js": "",
	})

	got, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"/a/c.txt", "/b.txt", "/src/main.go"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNewOS_ReadWrite(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("disk"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewOS(root)
	if err != nil {
		t.Fatalf("NewOS: %v", err)
	}
	defer store.Close()

	doc, err := store.Read(context.Background(), "/notes.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.Content != "disk" {
		t.Errorf("Content = %q, want disk", doc.Content)
	}

	if err := store.Write(context.Background(), "/sub/new.txt", "new"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "sub", "new.txt"))
	if err != nil || string(data) != "new" {
		t.Errorf("file on disk = %q, %v; want new", data, err)
	}
}

func TestNewOS_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, nil, 0o644)

	if _, err := NewOS(file); err == nil {
		t.Error("expected error for a non-directory root")
	}
}

func TestNewOS_FSNotify(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "watched.txt")
	if err := os.WriteFile(target, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewOS(root, WithFSNotify(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewOS: %v", err)
	}
	defer store.Close()

	kinds := make(chan Kind, 16)
	_, err = store.Watch("/watched.txt", func(p string, k Kind) {
		if p == "/watched.txt" {
			kinds <- k
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Editors and the OS may split one write into several events, so extra
	// Changed notifications before the expected kind are tolerated.
	wait := func(want Kind) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case k := <-kinds:
				if k == want {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %v", want)
			}
		}
	}

	if err := os.WriteFile(target, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	wait(Changed)

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	wait(Deleted)
}

func TestNewOS_FSNotifyIgnoresOwnWrites(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(target, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewOS(root, WithFSNotify(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewOS: %v", err)
	}
	defer store.Close()

	kinds := make(chan Kind, 16)
	if _, err := store.Watch("/notes.txt", func(_ string, k Kind) { kinds <- k }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := store.Write(context.Background(), "/notes.txt", "saved by the store"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case k := <-kinds:
		t.Fatalf("own write reported as %v", k)
	case <-time.After(500 * time.Millisecond):
	}

	if err := os.WriteFile(target, []byte("edited elsewhere"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case k := <-kinds:
		if k != Changed {
			t.Errorf("kind = %v, want Changed", k)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the external change")
	}
}

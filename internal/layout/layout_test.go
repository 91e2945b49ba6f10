package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ligustah/espadl/internal/asset"
)

func mustAsset(t *testing.T, url, order string) asset.Asset {
	t.Helper()
	a, err := asset.New(url, order)
	if err != nil {
		t.Fatalf("asset.New: %v", err)
	}
	return a
}

func TestResolve(t *testing.T) {
	base := t.TempDir()
	r := NewResolver(base)

	p, err := r.Resolve(mustAsset(t, "https://h/x/scene.tar.gz", "order-1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := Paths{
		Directory: filepath.Join(base, "order-1"),
		Final:     filepath.Join(base, "order-1", "scene.tar.gz"),
		Partial:   filepath.Join(base, "order-1", "scene.tar.gz.part"),
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	r := NewResolver(t.TempDir())

	for _, order := range []string{"..", "a/b", `a\b`} {
		a := asset.Asset{OrderID: order, Filename: "f.tar.gz"}
		if _, err := r.Resolve(a); !errors.Is(err, ErrUnsafePath) {
			t.Errorf("order %q: expected ErrUnsafePath, got %v", order, err)
		}
	}
}

func TestEnsureDirectoryIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	created, err := EnsureDirectory(dir)
	if err != nil {
		t.Fatalf("first EnsureDirectory: %v", err)
	}
	if !created {
		t.Error("expected directory to be created")
	}

	created, err = EnsureDirectory(dir)
	if err != nil {
		t.Fatalf("second EnsureDirectory: %v", err)
	}
	if created {
		t.Error("expected second call to be a no-op")
	}
}

func TestEnsureDirectoryOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := EnsureDirectory(path); err == nil {
		t.Error("expected error when a file occupies the directory path")
	}
}

func TestIsStored(t *testing.T) {
	r := NewResolver(t.TempDir())
	a := mustAsset(t, "https://h/x/scene.tar.gz", "o1")

	stored, err := r.IsStored(a)
	if err != nil || stored {
		t.Fatalf("expected not stored, got %v, %v", stored, err)
	}

	p, _ := r.Resolve(a)
	if _, err := EnsureDirectory(p.Directory); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.Partial, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if stored, _ := r.IsStored(a); stored {
		t.Error("a partial file must not count as stored")
	}

	if err := os.WriteFile(p.Final, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if stored, _ := r.IsStored(a); !stored {
		t.Error("expected stored once final file exists")
	}
}

func TestStartingOffset(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, "f.part")

	off, err := StartingOffset(partial)
	if err != nil || off != 0 {
		t.Fatalf("expected 0 for missing file, got %d, %v", off, err)
	}

	if err := os.WriteFile(partial, make([]byte, 1234), 0o644); err != nil {
		t.Fatal(err)
	}
	off, err = StartingOffset(partial)
	if err != nil {
		t.Fatalf("StartingOffset: %v", err)
	}
	if off != 1234 {
		t.Errorf("expected 1234, got %d", off)
	}
}

func TestScan(t *testing.T) {
	base := t.TempDir()
	write := func(rel string, size int) {
		t.Helper()
		p := filepath.Join(base, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("o1/a.tar.gz", 10)
	write("o1/a.md5", 2)
	write("o1/b.tar.gz.part", 4)
	write("o2/c.tar.gz", 1)
	write("stray.txt", 1)

	entries, err := NewResolver(base).Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	want := []Entry{
		{OrderID: "o1", Filename: "a.md5", Path: filepath.Join(base, "o1", "a.md5"), Size: 2},
		{OrderID: "o1", Filename: "a.tar.gz", Path: filepath.Join(base, "o1", "a.tar.gz"), Size: 10},
		{OrderID: "o1", Filename: "b.tar.gz", Path: filepath.Join(base, "o1", "b.tar.gz.part"), Size: 4, Partial: true},
		{OrderID: "o2", Filename: "c.tar.gz", Path: filepath.Join(base, "o2", "c.tar.gz"), Size: 1},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestScanMissingBase(t *testing.T) {
	entries, err := NewResolver(filepath.Join(t.TempDir(), "missing")).Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %v", entries)
	}
}

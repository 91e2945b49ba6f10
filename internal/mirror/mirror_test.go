package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/espadl/internal/asset"
	"github.com/ligustah/espadl/internal/layout"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	a, err := asset.New("https://h/o1/scene.tar.gz", "o1")
	if err != nil {
		t.Fatal(err)
	}

	local := filepath.Join(t.TempDir(), "scene.tar.gz")
	if err := os.WriteFile(local, []byte("scene data"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(bucket, "mirror", nil)

	uploaded, err := p.Publish(ctx, a, local)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !uploaded {
		t.Error("expected first publish to upload")
	}

	data, err := bucket.ReadAll(ctx, "mirror/o1/scene.tar.gz")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "scene data" {
		t.Errorf("unexpected object content %q", data)
	}

	attrs, err := bucket.Attributes(ctx, "mirror/o1/scene.tar.gz")
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if attrs.Metadata["order_id"] != "o1" {
		t.Errorf("expected order_id metadata, got %v", attrs.Metadata)
	}

	uploaded, err = p.Publish(ctx, a, local)
	if err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if uploaded {
		t.Error("expected second publish to be skipped")
	}
}

func TestPublishMissingFile(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()

	a, _ := asset.New("https://h/o1/scene.tar.gz", "o1")
	if _, err := New(bucket, "", nil).Publish(ctx, a, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPublishStored(t *testing.T) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "o1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "o1", "a.tar.gz"), []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "o1", "b.tar.gz.part"), []byte("bb"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := layout.NewResolver(base).Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	p := New(bucket, "", nil)
	var uploaded, rejected int
	for _, e := range entries {
		ok, err := p.PublishStored(ctx, e)
		if err != nil {
			rejected++
			continue
		}
		if ok {
			uploaded++
		}
	}

	if uploaded != 1 || rejected != 1 {
		t.Errorf("uploaded/rejected = %d/%d, want 1/1", uploaded, rejected)
	}
	if ok, _ := bucket.Exists(ctx, "o1/a.tar.gz"); !ok {
		t.Error("expected o1/a.tar.gz in bucket")
	}
	if ok, _ := bucket.Exists(ctx, "o1/b.tar.gz"); ok {
		t.Error("partial file must not be mirrored")
	}
}

func TestUploadReadFailureLeavesNoObject(t *testing.T) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	p := New(bucket, "", nil)

	readErr := errors.New("disk read failed")
	r := io.MultiReader(strings.NewReader("first half"), iotest.ErrReader(readErr))

	if err := p.upload(ctx, "o1/scene.tar.gz", r, nil); !errors.Is(err, readErr) {
		t.Fatalf("expected read error, got %v", err)
	}

	exists, err := bucket.Exists(ctx, "o1/scene.tar.gz")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("expected no object after a failed upload")
	}
}

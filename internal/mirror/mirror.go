// Package mirror publishes completed assets to object storage.
//
// A [Publisher] copies a final file from the local tree to
// {prefix}/{order_id}/{filename} in any bucket gocloud.dev/blob can open
// (file://, s3://, gs://, mem://). Objects of the same size are left alone,
// so publishing is safe to repeat.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/espadl/internal/asset"
	"github.com/ligustah/espadl/internal/layout"
)

var ErrNotRegular = errors.New("mirror: source is not a regular file")

// Publisher copies files into a bucket.
type Publisher struct {
	bucket *blob.Bucket
	prefix string
	logger *slog.Logger
}

// Open opens bucketURL and returns a Publisher writing below prefix.
func Open(ctx context.Context, bucketURL, prefix string, logger *slog.Logger) (*Publisher, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return New(bkt, prefix, logger), nil
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key for a.
func (p *Publisher) Key(a asset.Asset) string {
	return path.Join(p.prefix, a.OrderID, a.Filename)
}

// Publish uploads localPath as the object for a unless an object of the
// same size exists. It reports whether an upload happened.
func (p *Publisher) Publish(ctx context.Context, a asset.Asset, localPath string) (bool, error) {
	return p.put(ctx, p.Key(a), localPath, map[string]string{
		"source_url": a.SourceURL,
		"order_id":   a.OrderID,
	})
}

// PublishStored uploads a complete file found in the local tree.
func (p *Publisher) PublishStored(ctx context.Context, e layout.Entry) (bool, error) {
	if e.Partial {
		return false, fmt.Errorf("%w: %s is incomplete", ErrNotRegular, e.Path)
	}
	key := path.Join(p.prefix, e.OrderID, e.Filename)
	return p.put(ctx, key, e.Path, map[string]string{"order_id": e.OrderID})
}

func (p *Publisher) put(ctx context.Context, key, localPath string, metadata map[string]string) (bool, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s", ErrNotRegular, localPath)
	}

	attrs, err := p.bucket.Attributes(ctx, key)
	switch {
	case err == nil && attrs.Size == info.Size():
		p.logger.Debug("object already mirrored", "key", key)
		return false, nil
	case err != nil && gcerrors.Code(err) != gcerrors.NotFound:
		return false, fmt.Errorf("attributes %s: %w", key, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	if err := p.upload(ctx, key, f, metadata); err != nil {
		return false, err
	}

	p.logger.Info("mirrored asset", "key", key, "size", info.Size())
	return true, nil
}

// upload writes r to key. A failed read leaves no object behind.
func (p *Publisher) upload(ctx context.Context, key string, r io.Reader, metadata map[string]string) error {
	// Cancelling the writer's context before Close discards the upload.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := p.bucket.NewWriter(wctx, key, &blob.WriterOptions{Metadata: metadata})
	if err != nil {
		return fmt.Errorf("new writer %s: %w", key, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying bucket.
func (p *Publisher) Close() error {
	return p.bucket.Close()
}

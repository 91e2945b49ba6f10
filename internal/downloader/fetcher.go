package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ligustah/espadl/internal/asset"
	espahttp "github.com/ligustah/espadl/internal/http"
	"github.com/ligustah/espadl/internal/layout"
	"github.com/ligustah/espadl/internal/progress"
)

// DefaultChunkSize bounds how much of a response body is held in memory.
const DefaultChunkSize = 1 << 20

const filePerm = 0o644

// RangeClient is the subset of the HTTP client used for transfers.
type RangeClient interface {
	Head(ctx context.Context, url string) (*espahttp.FileInfo, error)
	GetFrom(ctx context.Context, url string, offset int64) (*espahttp.RangeResponse, error)
}

// Fetcher appends remote bytes to partial files.
type Fetcher struct {
	client    RangeClient
	chunkSize int
	reporter  *progress.Reporter
	logger    *slog.Logger
}

// NewFetcher returns a Fetcher reading at most chunkSize bytes at a time.
// A non-positive chunkSize selects DefaultChunkSize. reporter may be nil.
func NewFetcher(client RangeClient, chunkSize int, reporter *progress.Reporter, logger *slog.Logger) *Fetcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:    client,
		chunkSize: chunkSize,
		reporter:  reporter,
		logger:    logger,
	}
}

// Size returns the remote size of a.
func (f *Fetcher) Size(ctx context.Context, a asset.Asset) (int64, error) {
	info, err := f.client.Head(ctx, a.SourceURL)
	if err != nil {
		return 0, requestError(a, "head", err)
	}
	return info.Size, nil
}

// FetchFrom requests a from offset and appends the body to partialPath. It
// returns the size of the partial file afterwards, read back from disk, so
// the result is meaningful even when the stream broke half way.
//
// A server that answers with the whole resource instead of the requested
// range causes the partial file to be rewritten from byte zero.
func (f *Fetcher) FetchFrom(ctx context.Context, a asset.Asset, partialPath string, offset int64) (int64, error) {
	resp, err := f.client.GetFrom(ctx, a.SourceURL, offset)
	if err != nil {
		return offset, requestError(a, "range request", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch {
	case resp.Partial() && resp.Start != offset:
		return offset, &TransferError{
			Kind:  KindProtocol,
			Op:    "range request",
			Asset: a,
			Err:   fmt.Errorf("%w: requested %d, got %d", ErrRangeMismatch, offset, resp.Start),
		}
	case !resp.Partial() && offset > 0:
		f.logger.Warn("server ignored range request, restarting from byte 0",
			"order_id", a.OrderID, "asset", a.Filename, "discarded", offset)
		flags |= os.O_TRUNC
		if f.reporter != nil {
			f.reporter.Restart()
		}
	}

	file, err := os.OpenFile(partialPath, flags, filePerm)
	if err != nil {
		return offset, fsError(a, "open partial file", err)
	}

	var w io.Writer = file
	if f.reporter != nil {
		w = f.reporter.Writer(file)
	}

	copyErr := f.copy(a, w, resp.Body)

	if err := file.Sync(); err != nil && copyErr == nil {
		copyErr = fsError(a, "sync partial file", err)
	}
	if err := file.Close(); err != nil && copyErr == nil {
		copyErr = fsError(a, "close partial file", err)
	}

	size, err := layout.StartingOffset(partialPath)
	if err != nil {
		return offset, fsError(a, "stat partial file", err)
	}

	if copyErr != nil {
		var te *TransferError
		if !errors.As(copyErr, &te) {
			copyErr = &TransferError{Kind: KindTransient, Op: "read body", Asset: a, Err: copyErr}
		}
		return size, copyErr
	}

	return size, nil
}

// copy streams src into dst through a buffer of chunkSize bytes. Write
// failures are returned as filesystem errors, read failures as is.
func (f *Fetcher) copy(a asset.Asset, dst io.Writer, src io.Reader) error {
	buf := make([]byte, f.chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fsError(a, "write partial file", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

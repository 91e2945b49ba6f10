package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ligustah/espadl/internal/asset"
	"github.com/ligustah/espadl/internal/layout"
	"github.com/ligustah/espadl/internal/progress"
)

const tracerName = "github.com/ligustah/espadl/internal/downloader"

// State is the position of an asset in the transfer state machine.
type State int

const (
	StateNotStarted State = iota
	StateFetching
	StateComplete
	StateAborted
	// StateSkipped is terminal for assets already on disk.
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateFetching:
		return "fetching"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes what happened to one asset.
type Result struct {
	Asset  asset.Asset
	Paths  layout.Paths
	State  State
	Target int64

	// StartOffset is the partial file size found before the first request.
	StartOffset int64

	// Size is the number of bytes on disk when the machine stopped.
	Size     int64
	Requests int

	// Transitions lists every state entered, starting with StateNotStarted.
	Transitions []State
}

func (r *Result) enter(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Downloader transfers single assets into the local tree.
type Downloader struct {
	fetcher  *Fetcher
	resolver *layout.Resolver
	logger   *slog.Logger
	pacer    Pacer
	reporter *progress.Reporter
	tracer   trace.Tracer
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithPacer sets the delay policy between requests. Default: RandomPacer
// between DefaultPacingMin and DefaultPacingMax.
func WithPacer(p Pacer) Option {
	return func(d *Downloader) {
		if p != nil {
			d.pacer = p
		}
	}
}

// WithReporter enables progress output. It should be the same reporter the
// Fetcher counts bytes with.
func WithReporter(r *progress.Reporter) Option {
	return func(d *Downloader) {
		d.reporter = r
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Downloader) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New returns a Downloader storing assets below resolver's base directory.
func New(fetcher *Fetcher, resolver *layout.Resolver, logger *slog.Logger, opts ...Option) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Downloader{
		fetcher:  fetcher,
		resolver: resolver,
		logger:   logger,
		pacer:    RandomPacer{Min: DefaultPacingMin, Max: DefaultPacingMax},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolver returns the layout used by d.
func (d *Downloader) Resolver() *layout.Resolver {
	return d.resolver
}

// Download brings a to its final path. Assets already stored are skipped
// without touching the network. On error the returned Result still
// describes how far the transfer got.
func (d *Downloader) Download(ctx context.Context, a asset.Asset) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "download.asset", trace.WithAttributes(
		attribute.String("order_id", a.OrderID),
		attribute.String("asset", a.Filename),
	))
	defer span.End()

	res, err := d.download(ctx, a)

	span.SetAttributes(
		attribute.String("state", res.State.String()),
		attribute.Int64("bytes", res.Size),
		attribute.Int("requests", res.Requests),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return res, err
}

func (d *Downloader) download(ctx context.Context, a asset.Asset) (Result, error) {
	res := Result{Asset: a}
	res.enter(StateNotStarted)

	logger := d.logger.With("order_id", a.OrderID, "asset", a.Filename)

	paths, err := d.resolver.Resolve(a)
	if err != nil {
		res.enter(StateAborted)
		return res, fsError(a, "resolve paths", err)
	}
	res.Paths = paths

	stored, err := d.resolver.IsStored(a)
	if err != nil {
		res.enter(StateAborted)
		return res, fsError(a, "check final file", err)
	}
	if stored {
		logger.Info("asset already exists on disk, skipping", "path", paths.Final)
		res.enter(StateSkipped)
		return res, nil
	}

	created, err := layout.EnsureDirectory(paths.Directory)
	if err != nil {
		res.enter(StateAborted)
		return res, fsError(a, "create directory", err)
	}
	if created {
		logger.Info("created target directory", "path", paths.Directory)
	}

	target, err := d.fetcher.Size(ctx, a)
	if err != nil {
		res.enter(StateAborted)
		return res, err
	}
	res.Target = target

	offset, err := layout.StartingOffset(paths.Partial)
	if err != nil {
		res.enter(StateAborted)
		return res, fsError(a, "plan resume", err)
	}
	res.StartOffset = offset
	res.Size = offset

	res.enter(StateFetching)

	if offset > target {
		res.enter(StateAborted)
		return res, &TransferError{
			Kind:  KindProtocol,
			Op:    "plan resume",
			Asset: a,
			Err:   fmt.Errorf("%w: %d > %d", ErrOversized, offset, target),
		}
	}

	if target == 0 && offset == 0 {
		if err := touch(paths.Partial); err != nil {
			res.enter(StateAborted)
			return res, fsError(a, "create partial file", err)
		}
	}

	if offset < target {
		logger.Info("downloading",
			"position", a.String(),
			"directory", paths.Directory,
			"size", target,
			"offset", offset,
		)

		if d.reporter != nil {
			d.reporter.Begin(a.String(), target, offset)
		}
		offset, err = d.fetchLoop(ctx, a, paths, offset, target, &res)
		if d.reporter != nil {
			d.reporter.End()
		}
		res.Size = offset
		if err != nil {
			logger.Error("transfer aborted, partial file kept for next run",
				"error", err, "bytes_on_disk", offset, "size", target)
			res.enter(StateAborted)
			return res, err
		}
	}

	if offset != target {
		res.enter(StateAborted)
		return res, &TransferError{
			Kind:  KindProtocol,
			Op:    "promote",
			Asset: a,
			Err:   fmt.Errorf("%w: %d > %d", ErrOversized, offset, target),
		}
	}

	if err := promote(paths); err != nil {
		logger.Error("could not promote partial file", "error", err)
		res.enter(StateAborted)
		return res, fsError(a, "promote", err)
	}

	res.enter(StateComplete)
	logger.Info("download complete", "path", paths.Final, "size", target)

	return res, nil
}

// fetchLoop issues range requests until the partial file reaches target.
// Any failed request ends the loop; nothing is retried.
func (d *Downloader) fetchLoop(ctx context.Context, a asset.Asset, paths layout.Paths, offset, target int64, res *Result) (int64, error) {
	for offset < target {
		next, err := d.fetcher.FetchFrom(ctx, a, paths.Partial, offset)
		res.Requests++
		if err != nil {
			return next, err
		}

		if next == offset {
			return next, &TransferError{Kind: KindProtocol, Op: "range request", Asset: a, Err: ErrNoProgress}
		}
		offset = next

		delay := d.pacer.Delay()
		d.logger.Debug("pacing", "order_id", a.OrderID, "asset", a.Filename, "delay", delay, "offset", offset)
		if err := sleep(ctx, delay); err != nil && offset < target {
			return offset, &TransferError{Kind: KindTransient, Op: "pacing", Asset: a, Err: err}
		}
	}

	return offset, nil
}

// promote moves the complete partial file to its final name. A final file
// that appeared since the skip check is never replaced: the hard link fails
// on it with ErrFinalExists.
func promote(paths layout.Paths) error {
	err := os.Link(paths.Partial, paths.Final)
	switch {
	case err == nil:
		return os.Remove(paths.Partial)
	case errors.Is(err, fs.ErrExist):
		return ErrFinalExists
	}

	// Filesystems without hard links.
	if _, statErr := os.Lstat(paths.Final); statErr == nil {
		return ErrFinalExists
	}
	return os.Rename(paths.Partial, paths.Final)
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	return f.Close()
}

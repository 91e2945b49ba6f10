package downloader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ligustah/espadl/internal/asset"
	"github.com/ligustah/espadl/internal/order"
)

// Publisher receives every asset that is present at its final path.
type Publisher interface {
	Publish(ctx context.Context, a asset.Asset, localPath string) (bool, error)
}

// CompareFunc checks a payload against a downloaded checksum file.
type CompareFunc func(payloadPath, checksumPath string) error

// AssetError ties a failure to the asset it happened on. Asset is the zero
// value for enumeration failures.
type AssetError struct {
	Asset asset.Asset
	Err   error
}

func (e AssetError) Error() string {
	if e.Asset.Filename == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (order %s): %v", e.Asset.DisplayName, e.Asset.OrderID, e.Err)
}

func (e AssetError) Unwrap() error {
	return e.Err
}

// Summary collects the outcome of a batch.
type Summary struct {
	Downloaded int
	Skipped    int
	Mirrored   int

	// Failed lists assets that did not reach their final path, plus
	// enumeration failures such as unknown orders.
	Failed []AssetError

	// Warnings lists non-fatal problems, such as checksum mismatches or
	// mirror failures. The payload stays on disk.
	Warnings []AssetError

	// Fatal is set when the run stopped early, on a credential rejection
	// or cancellation.
	Fatal error
}

// Err returns nil when every asset succeeded.
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Failed)+1)
	if s.Fatal != nil {
		errs = append(errs, s.Fatal)
	}
	for _, f := range s.Failed {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Batch downloads a sequence of assets one after the other.
type Batch struct {
	downloader *Downloader
	logger     *slog.Logger
	compare    CompareFunc
	publisher  Publisher
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithChecksums downloads the companion checksum file of every payload and
// compares both with fn.
func WithChecksums(fn CompareFunc) BatchOption {
	return func(b *Batch) {
		b.compare = fn
	}
}

// WithPublisher hands every stored asset to p.
func WithPublisher(p Publisher) BatchOption {
	return func(b *Batch) {
		b.publisher = p
	}
}

// NewBatch returns a Batch using d for every transfer.
func NewBatch(d *Downloader, logger *slog.Logger, opts ...BatchOption) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batch{downloader: d, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run consumes items until they are exhausted, the context is cancelled or
// the service rejects the credentials.
func (b *Batch) Run(ctx context.Context, items iter.Seq2[asset.Asset, error]) *Summary {
	s := &Summary{}

	for a, err := range items {
		if err != nil {
			if errors.Is(err, order.ErrAuthentication) {
				b.logger.Error("user authentication failed", "error", err)
				s.Fatal = err
				return s
			}
			b.logger.Error("could not enumerate assets", "error", err)
			s.Failed = append(s.Failed, AssetError{Err: err})
			continue
		}

		if err := ctx.Err(); err != nil {
			s.Fatal = err
			return s
		}

		b.logger.Info("now processing asset", "asset", a.String(), "order_id", a.OrderID)

		if fatal := b.process(ctx, a, s); fatal != nil {
			s.Fatal = fatal
			return s
		}
	}

	if err := ctx.Err(); err != nil && s.Fatal == nil {
		s.Fatal = err
	}
	return s
}

// process handles one payload and, when enabled, its checksum and mirror.
// It returns an error only when the whole batch must stop.
func (b *Batch) process(ctx context.Context, a asset.Asset, s *Summary) error {
	res, err := b.downloader.Download(ctx, a)
	if err != nil {
		s.Failed = append(s.Failed, AssetError{Asset: a, Err: err})
		if IsAuth(err) {
			return err
		}
		return nil
	}

	switch res.State {
	case StateSkipped:
		s.Skipped++
	case StateComplete:
		s.Downloaded++
	}

	if b.compare != nil {
		if err := b.verify(ctx, a, res.Paths.Final, s); err != nil {
			return err
		}
	}

	if b.publisher != nil {
		b.publish(ctx, a, res.Paths.Final, s)
	}

	return nil
}

func (b *Batch) verify(ctx context.Context, a asset.Asset, payloadPath string, s *Summary) error {
	sum, err := a.Checksum()
	if errors.Is(err, asset.ErrNoChecksumURL) {
		b.logger.Debug("no checksum published", "asset", a.Filename)
		return nil
	}
	if err != nil {
		s.Warnings = append(s.Warnings, AssetError{Asset: a, Err: err})
		return nil
	}

	res, err := b.downloader.Download(ctx, sum)
	if err != nil {
		s.Failed = append(s.Failed, AssetError{Asset: sum, Err: err})
		if IsAuth(err) {
			return err
		}
		return nil
	}

	if err := b.compare(payloadPath, res.Paths.Final); err != nil {
		b.logger.Warn("checksum verification failed, payload kept", "asset", a.Filename, "error", err)
		s.Warnings = append(s.Warnings, AssetError{Asset: a, Err: err})
		return nil
	}

	b.logger.Info("checksum verified", "asset", a.Filename)

	if b.publisher != nil {
		b.publish(ctx, sum, res.Paths.Final, s)
	}
	return nil
}

func (b *Batch) publish(ctx context.Context, a asset.Asset, path string, s *Summary) {
	uploaded, err := b.publisher.Publish(ctx, a, path)
	if err != nil {
		b.logger.Warn("mirroring failed", "asset", a.Filename, "error", err)
		s.Warnings = append(s.Warnings, AssetError{Asset: a, Err: err})
		return
	}
	if uploaded {
		s.Mirrored++
	}
}

package asset

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ArchiveSuffix is stripped from filenames to build display names.
const ArchiveSuffix = ".tar.gz"

var (
	ErrInvalidURL     = errors.New("asset: invalid source url")
	ErrNoOrder        = errors.New("asset: order id is required")
	ErrNoChecksumURL  = errors.New("asset: no checksum url")
	ErrChecksumOfSum  = errors.New("asset: asset is already a checksum file")
	errInvalidOptions = errors.New("asset: invalid option")
)

// Asset is one remote downloadable file tied to an order.
type Asset struct {
	SourceURL   string
	OrderID     string
	Filename    string
	DisplayName string

	// Index and Total are the 1-based position within the enumerated
	// batch. Both are zero when unknown.
	Index int
	Total int

	// ChecksumURL points at the companion checksum file, if the service
	// publishes one.
	ChecksumURL string

	isChecksum bool
}

// Option customises an Asset at construction time.
type Option func(*Asset) error

// WithSequence records the position of the asset within its batch.
func WithSequence(index, total int) Option {
	return func(a *Asset) error {
		if index < 1 || total < index {
			return fmt.Errorf("%w: sequence %d of %d", errInvalidOptions, index, total)
		}
		a.Index = index
		a.Total = total
		return nil
	}
}

// WithChecksumURL records where the companion checksum file lives.
func WithChecksumURL(u string) Option {
	return func(a *Asset) error {
		if u == "" {
			return nil
		}
		if _, err := filenameOf(u); err != nil {
			return err
		}
		a.ChecksumURL = u
		return nil
	}
}

// New builds an Asset for sourceURL within orderID.
func New(sourceURL, orderID string, opts ...Option) (Asset, error) {
	if orderID == "" {
		return Asset{}, ErrNoOrder
	}

	name, err := filenameOf(sourceURL)
	if err != nil {
		return Asset{}, err
	}

	a := Asset{
		SourceURL:   sourceURL,
		OrderID:     orderID,
		Filename:    name,
		DisplayName: strings.TrimSuffix(name, ArchiveSuffix),
	}

	for _, opt := range opts {
		if err := opt(&a); err != nil {
			return Asset{}, err
		}
	}

	return a, nil
}

// Checksum returns a new Asset describing the companion checksum file of a.
// The receiver is left untouched.
func (a Asset) Checksum() (Asset, error) {
	if a.isChecksum {
		return Asset{}, ErrChecksumOfSum
	}
	if a.ChecksumURL == "" {
		return Asset{}, fmt.Errorf("%w for %s", ErrNoChecksumURL, a.Filename)
	}

	name, err := filenameOf(a.ChecksumURL)
	if err != nil {
		return Asset{}, err
	}

	return Asset{
		SourceURL:   a.ChecksumURL,
		OrderID:     a.OrderID,
		Filename:    name,
		DisplayName: name,
		Index:       a.Index,
		Total:       a.Total,
		isChecksum:  true,
	}, nil
}

// IsChecksum reports whether the asset was derived with [Asset.Checksum].
func (a Asset) IsChecksum() bool {
	return a.isChecksum
}

// HasSequence reports whether the batch position is known.
func (a Asset) HasSequence() bool {
	return a.Index > 0 && a.Total > 0
}

func (a Asset) String() string {
	if a.HasSequence() {
		return fmt.Sprintf("%s (%d of %d)", a.DisplayName, a.Index, a.Total)
	}
	return a.DisplayName
}

func filenameOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: no filename in %q", ErrInvalidURL, raw)
	}

	return name, nil
}

package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/ligustah/espadl/internal/asset"
	espahttp "github.com/ligustah/espadl/internal/http"
)

// Kind classifies why a transfer stopped.
type Kind int

const (
	// KindTransient covers network failures, timeouts, truncated streams and
	// server errors. The partial file is kept for the next run.
	KindTransient Kind = iota + 1

	// KindFilesystem covers local failures: directories, the partial file and
	// promotion to the final name.
	KindFilesystem

	// KindProtocol covers replies that cannot be appended safely, such as a
	// range starting at the wrong offset or an unexpected status.
	KindProtocol

	// KindAuth is a credential rejection. It ends the whole run.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFilesystem:
		return "filesystem"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrRangeMismatch = errors.New("downloader: range response starts at wrong offset")
	ErrNoProgress    = errors.New("downloader: request returned no data")
	ErrOversized     = errors.New("downloader: partial file larger than remote file")
	ErrFinalExists   = errors.New("downloader: final file already exists")
)

// TransferError describes a failed step for one asset.
type TransferError struct {
	Kind  Kind
	Op    string
	Asset asset.Asset
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s/%s: %s: %v", e.Kind, e.Asset.OrderID, e.Asset.Filename, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first TransferError in err's chain, or 0.
func KindOf(err error) Kind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsTransient reports whether err is a transient transfer failure.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsFilesystem reports whether err is a local filesystem failure.
func IsFilesystem(err error) bool { return KindOf(err) == KindFilesystem }

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

func fsError(a asset.Asset, op string, err error) error {
	return &TransferError{Kind: KindFilesystem, Op: op, Asset: a, Err: err}
}

// requestError classifies an error returned by the HTTP client.
func requestError(a asset.Asset, op string, err error) error {
	kind := KindProtocol
	switch {
	case errors.Is(err, espahttp.ErrUnauthorized), errors.Is(err, espahttp.ErrForbidden):
		kind = KindAuth
	case errors.Is(err, espahttp.ErrBadContentRange), errors.Is(err, espahttp.ErrNoContentLength):
		kind = KindProtocol
	case errors.Is(err, espahttp.ErrServerError),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		kind = KindTransient
	case !isStatus(err):
		// Anything that is not an HTTP status is a network failure.
		kind = KindTransient
	}
	return &TransferError{Kind: kind, Op: op, Asset: a, Err: err}
}

func isStatus(err error) bool {
	var se *espahttp.StatusError
	return errors.As(err, &se)
}

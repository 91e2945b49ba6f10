package order

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/ligustah/espadl/internal/asset"
	espahttp "github.com/ligustah/espadl/internal/http"
)

// All selects every order placed with the configured email.
const All = "ALL"

var (
	ErrAuthentication = errors.New("order: user authentication failed")
	ErrOrderNotFound  = errors.New("order: order not found, verify the order id")
)

// Enumerator yields the downloadable assets of orderID, or of every order
// when orderID is All.
type Enumerator interface {
	Assets(ctx context.Context, orderID string) iter.Seq2[asset.Asset, error]
}

// classify maps HTTP failures onto the order error taxonomy.
func classify(err error, orderID string) error {
	switch {
	case errors.Is(err, espahttp.ErrUnauthorized), errors.Is(err, espahttp.ErrForbidden):
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	case errors.Is(err, espahttp.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrOrderNotFound, orderID, err)
	default:
		return err
	}
}

func trimHost(host string) string {
	return strings.TrimRight(host, "/")
}

func isAll(orderID string) bool {
	return orderID == "" || strings.EqualFold(orderID, All)
}

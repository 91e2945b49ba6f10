package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ligustah/espadl/internal/asset"
)

// DefaultAPIHost serves the JSON API.
const DefaultAPIHost = "https://espa.cr.usgs.gov/api/v1"

// StatusComplete marks items ready for download.
const StatusComplete = "complete"

// Item is one product of an order as reported by item-status.
type Item struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	ProductURL     string `json:"product_dload_url"`
	ChecksumURL    string `json:"cksum_download_url"`
	CompletionDate string `json:"completion_date,omitempty"`
	Note           string `json:"note,omitempty"`
}

// API enumerates assets through the JSON API.
type API struct {
	host   string
	email  string
	client Getter
	logger *slog.Logger
}

// NewAPI returns an API client for email. An empty host selects
// DefaultAPIHost.
func NewAPI(host, email string, client Getter, logger *slog.Logger) *API {
	if host == "" {
		host = DefaultAPIHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{host: trimHost(host), email: email, client: client, logger: logger}
}

// Orders returns the ids of every order placed with the configured email.
func (a *API) Orders(ctx context.Context) ([]string, error) {
	var orders []string
	u := fmt.Sprintf("%s/list-orders/%s", a.host, url.PathEscape(a.email))
	if err := a.getJSON(ctx, u, &orders); err != nil {
		return nil, classify(err, a.email)
	}
	return orders, nil
}

// Items returns the items of orderID regardless of status.
func (a *API) Items(ctx context.Context, orderID string) ([]Item, error) {
	var resp map[string][]Item
	u := fmt.Sprintf("%s/item-status/%s", a.host, url.PathEscape(orderID))
	if err := a.getJSON(ctx, u, &resp); err != nil {
		return nil, classify(err, orderID)
	}

	items, ok := resp[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return items, nil
}

// Assets implements Enumerator.
func (a *API) Assets(ctx context.Context, orderID string) iter.Seq2[asset.Asset, error] {
	return func(yield func(asset.Asset, error) bool) {
		orders := []string{orderID}
		if isAll(orderID) {
			all, err := a.Orders(ctx)
			if err != nil {
				yield(asset.Asset{}, err)
				return
			}
			orders = all
		}

		for _, id := range orders {
			items, err := a.Items(ctx, id)
			if err != nil {
				if !yield(asset.Asset{}, err) || errors.Is(err, ErrAuthentication) {
					return
				}
				continue
			}

			var complete []Item
			for _, it := range items {
				if strings.EqualFold(it.Status, StatusComplete) && it.ProductURL != "" {
					complete = append(complete, it)
				}
			}
			a.logger.Info("files available for download", "order", id, "count", len(complete), "items", len(items))

			for i, it := range complete {
				as, err := asset.New(it.ProductURL, id,
					asset.WithSequence(i+1, len(complete)),
					asset.WithChecksumURL(it.ChecksumURL),
				)
				if err != nil {
					err = fmt.Errorf("item %s: %w", it.Name, err)
				}
				if !yield(as, err) {
					return
				}
			}
		}
	}
}

func (a *API) getJSON(ctx context.Context, u string, dst any) error {
	body, err := a.client.Get(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("decoding %s: %w", u, err)
	}
	return nil
}

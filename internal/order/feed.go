package order

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/ligustah/espadl/internal/asset"
	espahttp "github.com/ligustah/espadl/internal/http"
)

// DefaultFeedHost serves the RSS status feed.
const DefaultFeedHost = "https://espa.cr.usgs.gov"

// Getter fetches a resource body.
type Getter interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// Feed enumerates assets from the RSS status feed of one email address.
type Feed struct {
	host   string
	email  string
	client Getter
	logger *slog.Logger
}

// NewFeed returns a Feed for email on host. An empty host selects
// DefaultFeedHost.
func NewFeed(host, email string, client Getter, logger *slog.Logger) *Feed {
	if host == "" {
		host = DefaultFeedHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{host: trimHost(host), email: email, client: client, logger: logger}
}

// URL returns the feed location.
func (f *Feed) URL() string {
	return fmt.Sprintf("%s/ordering/status/%s/rss/", f.host, url.PathEscape(f.email))
}

// Assets implements Enumerator.
func (f *Feed) Assets(ctx context.Context, orderID string) iter.Seq2[asset.Asset, error] {
	return func(yield func(asset.Asset, error) bool) {
		items, err := f.items(ctx)
		if err != nil {
			yield(asset.Asset{}, classify(err, orderID))
			return
		}

		var selected []feedEntry
		for _, it := range items {
			entry, err := parseEntry(it)
			if err != nil {
				f.logger.Warn("skipping malformed feed entry", "title", it.Title, "error", err)
				continue
			}
			if isAll(orderID) || entry.orderID == orderID {
				selected = append(selected, entry)
			}
		}

		if !isAll(orderID) && len(selected) == 0 {
			yield(asset.Asset{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID))
			return
		}

		f.logger.Info("files available for download", "count", len(selected), "order", orderID)

		for i, e := range selected {
			a, err := asset.New(e.link, e.orderID, asset.WithSequence(i+1, len(selected)))
			if err != nil {
				err = fmt.Errorf("feed entry %q: %w", e.link, err)
			}
			if !yield(a, err) {
				return
			}
		}
	}
}

func (f *Feed) items(ctx context.Context) ([]*gofeed.Item, error) {
	body, err := f.client.Get(ctx, f.URL())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed.Items, nil
}

type feedEntry struct {
	link    string
	orderID string
}

// parseEntry reads an item whose description looks like
// "scene_status:<status>,orderid:<id>,orderdate:<date>".
func parseEntry(it *gofeed.Item) (feedEntry, error) {
	if it.Link == "" {
		return feedEntry{}, fmt.Errorf("missing link")
	}

	fields := make(map[string]string)
	for _, part := range strings.Split(it.Description, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		fields[k] = v
	}

	id := fields["orderid"]
	if id == "" {
		return feedEntry{}, fmt.Errorf("no order id in description %q", it.Description)
	}

	return feedEntry{link: it.Link, orderID: id}, nil
}

var _ Getter = (*espahttp.Client)(nil)

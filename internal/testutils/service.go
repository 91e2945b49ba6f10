// Package testutils provides shared test infrastructure: a fake order
// service with range support and, for integration tests, an S3 compatible
// bucket.
package testutils

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// StatusComplete marks a product that can be downloaded.
const StatusComplete = "complete"

// Product is one file of a fake order.
type Product struct {
	Name string
	Data []byte

	// Status defaults to StatusComplete.
	Status string

	// NoChecksum hides the companion .md5 file.
	NoChecksum bool
}

// Order is a fake order and its products.
type Order struct {
	ID       string
	Products []Product
}

// Service is an httptest server imitating the order service: the JSON API,
// the RSS status feed and range-capable product downloads, all behind
// basic auth.
type Service struct {
	*httptest.Server

	Email    string
	Username string
	Password string

	mu          sync.Mutex
	orders      []Order
	requests    []string
	ignoreRange bool
}

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// StartService starts a fake order service for email. It is closed when
// the test ends.
func StartService(t *testing.T, email, username, password string, orders ...Order) *Service {
	t.Helper()

	s := &Service{
		Email:    email,
		Username: username,
		Password: password,
		orders:   orders,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/list-orders/{email}", s.listOrders)
	mux.HandleFunc("GET /api/v1/item-status/{order}", s.itemStatus)
	mux.HandleFunc("GET /ordering/status/{email}/rss/", s.feed)
	mux.HandleFunc("/orders/{order}/{file}", s.product)

	s.Server = httptest.NewServer(s.authenticate(mux))
	t.Cleanup(s.Close)
	return s
}

// APIHost is the base URL of the JSON API.
func (s *Service) APIHost() string {
	return s.URL + "/api/v1"
}

// ProductURL is where name of orderID is served.
func (s *Service) ProductURL(orderID, name string) string {
	return fmt.Sprintf("%s/orders/%s/%s", s.URL, orderID, name)
}

// ChecksumURL is where the .md5 file of name is served.
func (s *Service) ChecksumURL(orderID, name string) string {
	return s.ProductURL(orderID, ChecksumName(name))
}

// ChecksumName returns the name of the checksum file published for name.
func ChecksumName(name string) string {
	return strings.TrimSuffix(name, ".tar.gz") + ".md5"
}

// IgnoreRanges makes product downloads answer every request with the whole
// file.
func (s *Service) IgnoreRanges(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreRange = ignore
}

// Requests returns "METHOD path [range]" for every request served so far.
func (s *Service) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many requests had the given method.
func (s *Service) Count(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" ") {
			n++
		}
	}
	return n
}

func (s *Service) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := r.Method + " " + r.URL.Path
		if rng := r.Header.Get("Range"); rng != "" {
			entry += " " + rng
		}
		s.mu.Lock()
		s.requests = append(s.requests, entry)
		s.mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="espa"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) listOrders(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("email") != s.Email {
		writeJSON(w, []string{})
		return
	}

	ids := make([]string, 0, len(s.orders))
	for _, o := range s.orders {
		ids = append(ids, o.ID)
	}
	writeJSON(w, ids)
}

type item struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	ProductURL  string `json:"product_dload_url"`
	ChecksumURL string `json:"cksum_download_url"`
}

func (s *Service) itemStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("order")
	o, ok := s.order(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	items := make([]item, 0, len(o.Products))
	for _, p := range o.Products {
		it := item{
			Name:       strings.TrimSuffix(p.Name, ".tar.gz"),
			Status:     p.status(),
			ProductURL: s.ProductURL(o.ID, p.Name),
		}
		if !p.NoChecksum {
			it.ChecksumURL = s.ChecksumURL(o.ID, p.Name)
		}
		items = append(items, it)
	}
	writeJSON(w, map[string][]item{id: items})
}

type rss struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Link  string    `xml:"link"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	GUID        string `xml:"guid"`
}

func (s *Service) feed(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("email") != s.Email {
		http.NotFound(w, r)
		return
	}

	doc := rss{
		Version: "2.0",
		Channel: rssChannel{Title: "ESPA Status Feed", Link: s.URL},
	}
	for _, o := range s.orders {
		for _, p := range o.Products {
			if p.status() != StatusComplete {
				continue
			}
			link := s.ProductURL(o.ID, p.Name)
			doc.Channel.Items = append(doc.Channel.Items, rssItem{
				Title:       strings.TrimSuffix(p.Name, ".tar.gz"),
				Link:        link,
				Description: fmt.Sprintf("scene_status:%s,orderid:%s,orderdate:2024-01-01", p.status(), o.ID),
				GUID:        link,
			})
		}
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(doc)
}

func (s *Service) product(w http.ResponseWriter, r *http.Request) {
	o, ok := s.order(r.PathValue("order"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, ok := o.file(r.PathValue("file"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	ignore := s.ignoreRange
	s.mu.Unlock()
	if ignore {
		r.Header.Del("Range")
	}

	http.ServeContent(w, r, r.PathValue("file"), time.Time{}, bytes.NewReader(data))
}

func (s *Service) order(id string) (Order, bool) {
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

func (o Order) file(name string) ([]byte, bool) {
	for _, p := range o.Products {
		if p.Name == name {
			return p.Data, true
		}
		if !p.NoChecksum && ChecksumName(p.Name) == name {
			return []byte(MD5(p.Data) + "  " + p.Name + "\n"), true
		}
	}
	return nil, false
}

func (p Product) status() string {
	if p.Status == "" {
		return StatusComplete
	}
	return p.Status
}

// MD5 returns the hex digest of data.
func MD5(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package quotes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/blumarkets/portfolio"
	"github.com/sirupsen/logrus"
)

// Source provides the prices of the moment.
type Source interface {
	Prices(ctx context.Context) (portfolio.Prices, error)
}

// Static always returns the same prices.
type Static portfolio.Prices

// Prices implements Source.
func (s Static) Prices(context.Context) (portfolio.Prices, error) { return portfolio.Prices(s), nil }

// Document reads prices from a file or an http(s) URL on every call.
type Document struct {
	reader   *Reader
	location string
	client   *http.Client
	now      func() time.Time
}

// DocumentOption configures a Document.
type DocumentOption func(*Document)

// WithClient sets the HTTP client used for URL locations.
func WithClient(c *http.Client) DocumentOption {
	return func(d *Document) { d.client = c }
}

// WithClock sets the valuation time stamped on the prices.
func WithClock(now func() time.Time) DocumentOption {
	return func(d *Document) { d.now = now }
}

// NewDocument returns a Source reading location with r.
func NewDocument(r *Reader, location string, opts ...DocumentOption) *Document {
	d := &Document{
		reader:   r,
		location: location,
		client:   http.DefaultClient,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prices implements Source.
func (d *Document) Prices(ctx context.Context) (portfolio.Prices, error) {
	data, err := d.read(ctx)
	if err != nil {
		return portfolio.Prices{}, fmt.Errorf("cannot read prices from %s: %w", d.location, err)
	}
	return d.reader.Parse(data, d.now())
}

func (d *Document) read(ctx context.Context) ([]byte, error) {
	if !isURL(d.location) {
		return os.ReadFile(d.location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http GET %v/%v: %v", resp.Request.URL.Host, resp.Request.URL.Path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Cached returns a client whose successful GET responses are kept on disk in
// dir for ttl. A zero ttl disables the cache.
func Cached(dir string, ttl time.Duration, log logrus.FieldLogger) *http.Client {
	if ttl <= 0 {
		return http.DefaultClient
	}
	return &http.Client{Transport: &diskCache{
		base: http.DefaultTransport,
		dir:  dir,
		ttl:  ttl,
		now:  time.Now,
		log:  log,
	}}
}

package quotes

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// diskCache is an http.RoundTripper storing responses in dir. Keys embed the
// current ttl window, so entries expire when the window moves on.
type diskCache struct {
	base http.RoundTripper
	dir  string
	ttl  time.Duration
	now  func() time.Time
	log  logrus.FieldLogger
}

func (c *diskCache) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return c.base.RoundTrip(req)
	}
	window := c.now().Truncate(c.ttl).Unix()
	key := fmt.Sprintf("%x", sha1.Sum([]byte(fmt.Sprintf("%d %s %s", window, req.Method, req.URL))))

	if resp, err := c.get(key, req); err == nil {
		return resp, nil
	}

	resp, err := c.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"host": req.URL.Host, "path": req.URL.Path, "status": resp.Status}).Debug("fetched prices")
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	if err := c.put(key, resp); err != nil {
		c.log.WithError(err).Warn("price cache write failed")
	}
	return resp, nil
}

func (c *diskCache) get(key string, req *http.Request) (*http.Response, error) {
	content, err := os.ReadFile(filepath.Join(c.dir, key))
	if err != nil {
		return nil, err
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(content)), req)
}

// put stores resp. DumpResponse leaves resp.Body readable.
func (c *diskCache) put(key string, resp *http.Response) error {
	content, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, key), content, 0o644)
}

package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// CDN is a fake file server with scriptable failures. Paths are given
// without a leading slash.
type CDN struct {
	server *httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	failures map[string]int
	corrupt  map[string]int
	status   map[string]int
	queries  map[string][]url.Values
}

// NewCDN starts a fake CDN that is closed when the test ends.
func NewCDN(t *testing.T) *CDN {
	t.Helper()

	c := &CDN{
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		corrupt:  make(map[string]int),
		status:   make(map[string]int),
		queries:  make(map[string][]url.Values),
	}
	c.server = httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(c.server.Close)
	return c
}

func (c *CDN) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	c.mu.Lock()
	c.queries[path] = append(c.queries[path], r.URL.Query())
	code := c.status[path]
	fail := c.failures[path] > 0
	if fail {
		c.failures[path]--
	}
	corrupt := c.corrupt[path] > 0
	if corrupt {
		c.corrupt[path]--
	}
	body, ok := c.files[path]
	c.mu.Unlock()

	switch {
	case code != 0:
		w.WriteHeader(code)
	case fail:
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, r)
	case corrupt:
		bad := append([]byte("corrupt:"), body...)
		w.Write(bad)
	default:
		w.Write(body)
	}
}

// URL returns the absolute URL of path.
func (c *CDN) URL(path string) string {
	return c.server.URL + "/" + strings.TrimPrefix(path, "/")
}

// BaseURL returns the server root.
func (c *CDN) BaseURL() string {
	return c.server.URL
}

// Serve publishes content at path.
func (c *CDN) Serve(path string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = content
}

// FailNext answers the next n requests for path with 503.
func (c *CDN) FailNext(path string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[path] = n
}

// CorruptNext answers the next n requests for path with altered bytes.
func (c *CDN) CorruptNext(path string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrupt[path] = n
}

// Status answers every request for path with code.
func (c *CDN) Status(path string, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[path] = code
}

// Requests returns how many times path was requested.
func (c *CDN) Requests(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries[path])
}

// Queries returns the query strings of every request for path.
func (c *CDN) Queries(path string) []url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]url.Values(nil), c.queries[path]...)
}

// TotalRequests returns the number of requests across all paths.
func (c *CDN) TotalRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queries {
		n += len(q)
	}
	return n
}

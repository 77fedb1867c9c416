package download

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "mansync/1.0"
	// ChunkSize is the read size used when streaming bodies to disk.
	ChunkSize = 32 * 1024
	// MaxDocumentSize caps bodies read into memory by Get.
	MaxDocumentSize = 16 << 20
	// CacheBustParam is the query parameter added to bypass stale CDN copies.
	CacheBustParam = "cb"
	// PartSuffix marks in-flight downloads.
	PartSuffix = ".part"
)

// ProgressFunc receives the bytes written for the current file, the file's
// expected total and the bytes written so far in the whole pass.
type ProgressFunc func(fileWritten, fileTotal, passWritten int64)

// Request describes one file transfer.
type Request struct {
	URL  string
	Dest string
	// ExpectedSize is the manifest size, used when the server sends no
	// Content-Length.
	ExpectedSize uint64
	// Offset is the pass-wide byte count before this file.
	Offset int64
	// CacheBust appends a random query parameter.
	CacheBust bool
	Progress  ProgressFunc
}

// Downloader performs HTTP transfers. It holds no retry policy.
type Downloader struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		if timeout > 0 {
			d.client.Timeout = timeout
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDownloader creates a new downloader
func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch streams req.URL into req.Dest and returns the bytes written. The body
// lands in Dest+".part" first and is renamed into place only when complete,
// so an interrupted transfer never leaves a truncated file at Dest.
func (d *Downloader) Fetch(ctx context.Context, req Request) (int64, error) {
	target := req.URL
	if req.CacheBust {
		busted, err := CacheBust(req.URL)
		if err != nil {
			return 0, syncerr.Network("build request", req.URL, err)
		}
		target = busted
	}

	resp, err := d.do(ctx, target)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total <= 0 {
		total = int64(req.ExpectedSize)
	}

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0755); err != nil {
		return 0, syncerr.FileSystem("create dest dir", filepath.Dir(req.Dest), err)
	}

	tmpPath := req.Dest + PartSuffix
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, syncerr.FileSystem("create file", tmpPath, err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	written, err := copyWithProgress(tmpFile, resp.Body, func(n int64) {
		if req.Progress != nil {
			req.Progress(n, total, req.Offset+n)
		}
	})
	if err != nil {
		var we *writeError
		if errors.As(err, &we) {
			return written, syncerr.FileSystem("write file", tmpPath, we.err)
		}
		return written, syncerr.Network("read body", req.URL, err)
	}

	if err := tmpFile.Close(); err != nil {
		return written, syncerr.FileSystem("close file", tmpPath, err)
	}

	if err := os.Rename(tmpPath, req.Dest); err != nil {
		return written, syncerr.FileSystem("rename file", req.Dest, err)
	}
	cleanupNeeded = false

	d.logger.Debug("downloaded",
		zap.String("url", target),
		zap.String("dest", req.Dest),
		zap.String("size", humanize.IBytes(uint64(written))))
	return written, nil
}

// Get fetches a small document into memory.
func (d *Downloader) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := d.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, syncerr.Network("read body", rawURL, err)
	}
	if len(data) > MaxDocumentSize {
		return nil, syncerr.Network("read body", rawURL, fmt.Errorf("document exceeds %s", humanize.IBytes(MaxDocumentSize)))
	}
	return data, nil
}

func (d *Downloader) do(ctx context.Context, target string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, syncerr.Network("create request", target, err)
	}
	httpReq.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, syncerr.Network("execute request", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, syncerr.Network("execute request", target, &StatusError{Code: resp.StatusCode, URL: target})
	}
	return resp, nil
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

func copyWithProgress(dst io.Writer, src io.Reader, progress func(int64)) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, &writeError{err: werr}
			}
			if nw != nr {
				return written, &writeError{err: io.ErrShortWrite}
			}
			progress(written)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// CacheBust returns rawURL with a random cb query parameter, keeping any
// existing query intact.
func CacheBust(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	token := make([]byte, 8)
	if _, err := rand.Read(token); err != nil {
		return "", err
	}

	q := u.Query()
	q.Set(CacheBustParam, hex.EncodeToString(token))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ligustah/portal/pkg/portal"
	"github.com/ligustah/portal/pkg/upload"
)

// Common errors.
var (
	ErrNotFound    = errors.New("http: resource not found")
	ErrBadRequest  = errors.New("http: bad request")
	ErrTooLarge    = errors.New("http: request body too large")
	ErrServerError = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for individual requests. Downloads of large archives may need
	// this raised or disabled (0).
	// Default: 10m
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             10 * time.Minute,
		RetryAttempts:       5,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// Client talks to a portal server.
type Client struct {
	base   string
	client *http.Client
	opts   Options
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// Download is a file streamed from the server. The caller must close Body.
type Download struct {
	Body io.ReadCloser
	Name string
	Size int64 // -1 if unknown
}

// List fetches a directory listing.
func (c *Client) List(ctx context.Context, dir string) (*portal.Listing, error) {
	u := c.base + "/api/list?path=" + url.QueryEscape(dir)
	resp, err := c.do(ctx, "list", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var l portal.Listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return &l, nil
}

// StartUpload opens an upload session. A chunk count of 0 lets the server
// choose.
func (c *Client) StartUpload(ctx context.Context, filename string, size int64, chunks int) (*upload.SessionInfo, error) {
	body, err := json.Marshal(map[string]any{
		"filename": filename,
		"filesize": size,
		"chunks":   chunks,
	})
	if err != nil {
		return nil, err
	}

	// Not retried: a lost response would leave an orphaned session behind.
	resp, err := c.once(ctx, "start upload", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/uploads", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, err
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info upload.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &info, nil
}

// UploadChunk sends length bytes of src starting at offset as chunk index of
// a session. Each attempt re-reads the section, so src must support
// concurrent ReadAt calls.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, index int, src io.ReaderAt, offset, length int64) (upload.Status, error) {
	u := fmt.Sprintf("%s/api/uploads/%s/chunks/%d", c.base, url.PathEscape(sessionID), index)
	resp, err := c.do(ctx, "upload chunk", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, io.NewSectionReader(src, offset, length))
		if err == nil {
			req.ContentLength = length
			req.Header.Set("Content-Type", "application/octet-stream")
		}
		return req, err
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Status upload.Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chunk response: %w", err)
	}
	return out.Status, nil
}

// UploadStatus fetches the progress of a session.
func (c *Client) UploadStatus(ctx context.Context, sessionID string) (*upload.SessionInfo, error) {
	u := c.base + "/api/uploads/" + url.PathEscape(sessionID)
	resp, err := c.do(ctx, "upload status", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info upload.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &info, nil
}

// AbortUpload cancels a session.
func (c *Client) AbortUpload(ctx context.Context, sessionID string) error {
	u := c.base + "/api/uploads/" + url.PathEscape(sessionID)
	resp, err := c.do(ctx, "abort upload", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DownloadFile streams a single file.
func (c *Client) DownloadFile(ctx context.Context, path string) (*Download, error) {
	return c.download(ctx, "/download/", path)
}

// DownloadArchive streams a zip archive of a directory.
func (c *Client) DownloadArchive(ctx context.Context, path string) (*Download, error) {
	return c.download(ctx, "/download_zip/", path)
}

func (c *Client) download(ctx context.Context, route, path string) (*Download, error) {
	u := c.base + route + escapePath(path)
	resp, err := c.do(ctx, "download", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}

	d := &Download{Body: resp.Body, Size: resp.ContentLength}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		d.Name = params["filename"]
	}
	return d, nil
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// do sends the request built by newReq, retrying transport failures and
// server errors with backoff. newReq is called once per attempt.
func (c *Client) do(ctx context.Context, op string, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		resp, err := c.send(newReq)
		if err == nil {
			return resp, nil
		}
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", op, c.opts.RetryAttempts+1, lastErr)
}

// once sends a request without retrying.
func (c *Client) once(ctx context.Context, op string, newReq func() (*http.Request, error)) (*http.Response, error) {
	resp, err := c.send(newReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var te *transportError
	return errors.As(err, &te) || errors.Is(err, ErrServerError)
}

func (c *Client) send(newReq func() (*http.Request, error)) (*http.Response, error) {
	req, err := newReq()
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}

	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// checkResponse returns an error carrying the server's message for
// non-success responses.
func checkResponse(resp *http.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	msg := resp.Status
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}

	switch {
	case code >= 500:
		return fmt.Errorf("%w: %s", ErrServerError, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case code == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrTooLarge, msg)
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, msg)
	default:
		return fmt.Errorf("unexpected status code %d: %s", code, msg)
	}
}

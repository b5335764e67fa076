package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/BadgerOps/assetsync/internal/safety"
)

const (
	// TempSuffix is appended to an asset name while it is being written.
	TempSuffix = ".tmp_download"

	// ChunkSize is the read/write buffer size for streaming a body.
	ChunkSize = 32 * 1024

	// Indeterminate is reported as the progress fraction when the server
	// sent no content length.
	Indeterminate = -1.0
)

// ProgressFunc is called after each chunk is written. totalBytes is -1
// when unknown, in which case fraction is Indeterminate.
type ProgressFunc func(fraction float64, totalBytes, receivedBytes int64)

// ErrKind classifies a failed download.
type ErrKind string

const (
	ErrKindNone      ErrKind = ""
	ErrKindTransport ErrKind = "transport"
	ErrKindHTTP      ErrKind = "http"
	ErrKindPartial   ErrKind = "partial"
	ErrKindIO        ErrKind = "io"
	ErrKindCancelled ErrKind = "cancelled"
)

// Request describes one asset to fetch.
type Request struct {
	Name    string // final file name inside the destination filesystem
	URL     string
	Headers http.Header
}

// Outcome is the per-asset result of Download.
type Outcome struct {
	Name         string
	Success      bool
	BytesWritten int64
	TotalBytes   int64 // -1 when unknown
	ErrKind      ErrKind
	Err          error
	Duration     time.Duration
}

// Client streams assets into a cache filesystem.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	timeout    time.Duration
}

// NewClient creates a new download client. timeout bounds each whole
// download including the body; zero means no limit beyond the caller's context.
func NewClient(logger *slog.Logger, timeout time.Duration) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Transport: safety.NewTransport(),
		},
		logger:    logger,
		userAgent: "assetsync/1.0",
		timeout:   timeout,
	}
}

// Download streams req.URL into <name>.tmp_download inside dest and renames
// it to <name> once the body is complete. On any failure the temp file is
// removed and an existing <name> is left untouched. Retries are the
// caller's concern.
func (c *Client) Download(ctx context.Context, req Request, dest billy.Filesystem, onProgress ProgressFunc) Outcome {
	start := time.Now()
	out := Outcome{Name: req.Name, TotalBytes: -1}

	fail := func(kind ErrKind, err error) Outcome {
		out.ErrKind = kind
		out.Err = err
		out.Duration = time.Since(start)
		c.logger.Warn("download failed", "asset", req.Name, "url", req.URL, "kind", kind, "error", err)
		return out
	}

	if err := safety.CheckAssetName(req.Name); err != nil {
		return fail(ErrKindIO, err)
	}
	if _, err := safety.ValidateHTTPURL(req.URL); err != nil {
		return fail(ErrKindTransport, fmt.Errorf("asset url: %w", err))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fail(ErrKindTransport, fmt.Errorf("failed to create request: %w", err))
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("downloading asset", "asset", req.Name, "url", req.URL)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fail(classify(ctx, err, ErrKindTransport), fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return fail(ErrKindHTTP, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	if resp.ContentLength >= 0 {
		out.TotalBytes = resp.ContentLength
	}

	tmpName := req.Name + TempSuffix
	file, err := dest.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fail(ErrKindIO, fmt.Errorf("failed to open temp file: %w", err))
	}

	written, kind, err := stream(file, resp.Body, out.TotalBytes, onProgress)
	out.BytesWritten = written
	if cerr := file.Close(); cerr != nil && err == nil {
		kind, err = ErrKindIO, fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err == nil && out.TotalBytes >= 0 && written != out.TotalBytes {
		kind, err = ErrKindPartial, fmt.Errorf("short body: got %d of %d bytes", written, out.TotalBytes)
	}
	if err != nil {
		_ = dest.Remove(tmpName)
		return fail(classify(ctx, err, kind), err)
	}

	if err := publish(dest, tmpName, req.Name); err != nil {
		_ = dest.Remove(tmpName)
		return fail(ErrKindIO, err)
	}

	out.Success = true
	out.Duration = time.Since(start)
	c.logger.Info("downloaded asset", "asset", req.Name, "bytes", written, "duration", out.Duration)
	return out
}

// stream copies body into w in ChunkSize pieces, reporting progress after
// every write.
func stream(w io.Writer, body io.Reader, total int64, onProgress ProgressFunc) (int64, ErrKind, error) {
	buf := make([]byte, ChunkSize)
	var received int64

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return received, ErrKindIO, fmt.Errorf("failed to write to file: %w", werr)
			}
			received += int64(n)
			if onProgress != nil {
				onProgress(fraction(received, total), total, received)
			}
		}
		if rerr == io.EOF {
			return received, ErrKindNone, nil
		}
		if rerr != nil {
			kind := ErrKindTransport
			if received > 0 {
				kind = ErrKindPartial
			}
			return received, kind, fmt.Errorf("reading body: %w", rerr)
		}
	}
}

// publish replaces final with tmp. The rename is the only point at which
// the final name appears.
func publish(fs billy.Filesystem, tmp, final string) error {
	if err := fs.Remove(final); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing previous %s: %w", final, err)
	}
	if err := fs.Rename(tmp, final); err != nil {
		return fmt.Errorf("publishing %s: %w", final, err)
	}
	return nil
}

func fraction(received, total int64) float64 {
	if total <= 0 {
		return Indeterminate
	}
	f := float64(received) / float64(total)
	if f > 1 {
		f = 1
	}
	return f
}

// classify turns context expiry into the right kind: a timeout stays a
// transport failure, an explicit cancel is reported as cancelled.
func classify(ctx context.Context, err error, fallback ErrKind) ErrKind {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrKindTransport
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return ErrKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTransport
	}
	return fallback
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

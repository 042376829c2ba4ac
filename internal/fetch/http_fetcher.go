package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
)

const (
	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps how much of an upstream body is read.
	DefaultMaxBodyBytes = 10 * 1024 * 1024

	// DefaultUserAgent is sent with every upstream request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; faleproxy/1.0)"
)

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	Client       *http.Client
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Logger       *logrus.Logger
}

// HTTPFetcher implements the Fetcher interface on top of net/http.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	log          *logrus.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher. A nil opts.Client gets a client with
// opts.Timeout and the default redirect policy.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPFetcher{
		client:       client,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		log:          opts.Logger,
	}
}

// Fetch retrieves targetURL and returns its body decoded to UTF-8, the final
// URL reached after any redirects, and an error if fetching failed.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("http_fetcher: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_fetcher: request to %s failed: %w", targetURL, err)
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	contentType := resp.Header.Get("Content-Type")

	f.log.WithFields(logrus.Fields{
		"url":          targetURL,
		"final_url":    finalURL,
		"status_code":  resp.StatusCode,
		"content_type": contentType,
	}).Debug("Received upstream response")

	if !isSuccessStatus(resp.StatusCode) {
		resp.Body.Close()
		return nil, &StatusError{URL: finalURL, StatusCode: resp.StatusCode}
	}

	limited := io.LimitReader(resp.Body, f.maxBodyBytes)
	decoded, err := charset.NewReader(limited, contentType)
	if err != nil {
		// Unknown charset label: hand back the raw bytes rather than failing.
		f.log.WithError(err).WithField("content_type", contentType).Warn("Could not determine charset, using raw body")
		decoded = limited
	}

	return &Page{
		Content:     readCloser{Reader: decoded, Closer: resp.Body},
		FinalURL:    finalURL,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}, nil
}

// Capabilities implements the Fetcher interface.
func (f *HTTPFetcher) Capabilities() FetcherCapabilities {
	return FetcherCapabilities{}
}

type readCloser struct {
	io.Reader
	io.Closer
}

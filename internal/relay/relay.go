package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rodrigopv/faleproxy/internal/fetch"
	"github.com/rodrigopv/faleproxy/internal/substitute"
)

// FetchRequest is the body accepted by POST /fetch.
type FetchRequest struct {
	URL *string `json:"url"`
}

// NewFetchRequest is a convenience for callers outside the HTTP layer.
func NewFetchRequest(rawURL string) FetchRequest {
	return FetchRequest{URL: &rawURL}
}

// FetchResult is the successful outcome of one relay.
type FetchResult struct {
	Success     bool   `json:"success"`
	Content     string `json:"content"`
	Title       string `json:"title"`
	OriginalURL string `json:"originalUrl"`
	Description string `json:"description,omitempty"`
	FinalURL    string `json:"finalUrl,omitempty"`
}

// Rewriter rewrites a fetched HTML document. *substitute.Engine implements it.
type Rewriter interface {
	Apply(htmlContent string) (*substitute.Output, error)
}

// Relay fetches an upstream page and rewrites it with the substitution engine.
// It has no per-request state and may be shared between goroutines.
type Relay struct {
	fetcher fetch.Fetcher
	engine  Rewriter
	log     *logrus.Logger
}

// New creates a Relay.
func New(fetcher fetch.Fetcher, engine Rewriter, logger *logrus.Logger) *Relay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Relay{
		fetcher: fetcher,
		engine:  engine,
		log:     logger,
	}
}

// Handle validates req, fetches the page and returns the rewritten result.
// Errors are *ValidationError or *FetchError.
func (r *Relay) Handle(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if req.URL == nil || strings.TrimSpace(*req.URL) == "" {
		return nil, &ValidationError{Message: MessageURLRequired}
	}
	originalURL := *req.URL
	targetURL := strings.TrimSpace(originalURL)

	entry := r.log.WithFields(logrus.Fields{
		"request_id": RequestID(ctx),
		"url":        targetURL,
	})
	start := time.Now()

	if err := checkTargetURL(targetURL); err != nil {
		entry.WithError(err).Info("Rejected target URL")
		return nil, &FetchError{URL: targetURL, Err: err}
	}

	page, err := r.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		entry.WithError(err).Warn("Upstream fetch failed")
		return nil, &FetchError{URL: targetURL, Err: err}
	}
	defer page.Content.Close()

	body, err := io.ReadAll(page.Content)
	if err != nil {
		entry.WithError(err).Warn("Failed to read upstream body")
		return nil, &FetchError{URL: targetURL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	result := &FetchResult{
		Success:     true,
		OriginalURL: originalURL,
	}
	if page.FinalURL != "" && page.FinalURL != targetURL {
		result.FinalURL = page.FinalURL
	}

	out, err := r.engine.Apply(string(body))
	var parseErr *substitute.ParseError
	switch {
	case errors.As(err, &parseErr):
		// Unparseable content is passed through as-is, with no title.
		entry.WithError(err).Warn("Could not parse upstream HTML")
		result.Content = string(body)
	case err != nil:
		entry.WithError(err).Warn("Could not render rewritten HTML")
		result.Content = string(body)
	default:
		result.Content = out.HTML
		result.Title = out.Title
		result.Description = out.Description
	}

	entry.WithFields(logrus.Fields{
		"status_code": page.StatusCode,
		"final_url":   page.FinalURL,
		"bytes":       len(body),
		"duration":    time.Since(start).String(),
	}).Info("Relayed page")

	return result, nil
}

// checkTargetURL makes sure rawURL is something an HTTP GET can be issued for.
func checkTargetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("invalid URL %q: must be absolute", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported protocol %s:", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", rawURL)
	}
	return nil
}

type ctxKeyRequestID struct{}

// WithRequestID stores a request id for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

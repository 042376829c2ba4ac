package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Danny-Dasilva/CycleTLS/cycletls"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
)

// tlsProfile holds a JA3 fingerprint and User-Agent combination.
type tlsProfile struct {
	ja3       string
	userAgent string
}

// defaultProfiles defines the list of profiles to try sequentially.
var defaultProfiles = []tlsProfile{
	{
		// Safari on macos
		ja3:       "772,4865-4866-4867-49196-49195-52393-49200-49199-52392-49162-49161-49172-49171-157-156-53-47-49160-49170-10,0-23-65281-10-11-16-5-13-18-51-45-43-27,29-23-24-25,0",
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.4 Safari/605.1.15",
	},
	{
		// Default Firefox profile
		ja3:       "771,4865-4867-4866-49195-49199-52393-52392-49196-49200-49162-49161-49171-49172-51-57-47-53-10,0-23-65281-10-11-35-16-5-51-43-13-45-28-21,29-23-24-25-256-257,0",
		userAgent: "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:87.0) Gecko/20100101 Firefox/87.0",
	},
}

// tlsDoer is the subset of cycletls.CycleTLS used by BrowserTLSFetcher.
type tlsDoer interface {
	Do(URL string, options cycletls.Options, Method string) (cycletls.Response, error)
	Close()
}

// BrowserTLSFetcher implements the Fetcher interface using cycleTLS, for
// upstreams that reject non-browser TLS handshakes.
type BrowserTLSFetcher struct {
	client       tlsDoer
	profiles     []tlsProfile
	timeout      time.Duration
	maxBodyBytes int64
	log          *logrus.Logger
}

var _ Fetcher = (*BrowserTLSFetcher)(nil)

// NewBrowserTLSFetcher creates a BrowserTLSFetcher with default cycleTLS settings and profiles.
func NewBrowserTLSFetcher(timeout time.Duration, maxBodyBytes int64, logger *logrus.Logger) *BrowserTLSFetcher {
	return newBrowserTLSFetcher(cycletls.Init(), timeout, maxBodyBytes, logger)
}

func newBrowserTLSFetcher(client tlsDoer, timeout time.Duration, maxBodyBytes int64, logger *logrus.Logger) *BrowserTLSFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BrowserTLSFetcher{
		client:       client,
		profiles:     defaultProfiles,
		timeout:      timeout,
		maxBodyBytes: maxBodyBytes,
		log:          logger,
	}
}

// Fetch retrieves the content from targetURL using cycleTLS.
// It iterates through the predefined JA3/User-Agent profiles, attempting the
// request with each until one gets past the TLS handshake or the list is
// exhausted. A 403 also moves on to the next profile.
func (f *BrowserTLSFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	var lastResp cycletls.Response
	var lastErr error
	var success bool

	for i, profile := range f.profiles {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("browser_tls_fetcher: %w", err)
		}

		options := cycletls.Options{
			Body:      "",
			Ja3:       profile.ja3,
			UserAgent: profile.userAgent,
			Headers:   map[string]string{"Accept": "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"},
			Timeout:   int(f.timeout / time.Second),
		}

		resp, err := f.client.Do(targetURL, options, http.MethodGet)
		lastResp = resp
		lastErr = err

		entry := f.log.WithFields(logrus.Fields{"url": targetURL, "profile": i + 1})
		if err != nil {
			entry.WithError(err).Debug("TLS profile failed")
			continue
		}
		if resp.Status == 0 && (strings.Contains(resp.Body, "tls: protocol version not supported") || strings.Contains(resp.Body, "HANDSHAKE_FAILURE")) {
			entry.Debug("TLS profile failed handshake")
			continue
		}
		if resp.Status == http.StatusForbidden {
			entry.Debug("TLS profile received 403 Forbidden, trying next profile")
			continue
		}

		success = true
		break
	}

	if !success {
		errMsg := fmt.Sprintf("browser_tls_fetcher: all TLS profiles failed for %s", targetURL)
		if lastErr != nil {
			return nil, fmt.Errorf("%s: %w", errMsg, lastErr)
		}
		if lastResp.Status == http.StatusForbidden {
			return nil, &StatusError{URL: targetURL, StatusCode: http.StatusForbidden}
		}
		if lastResp.Body != "" {
			errMsg = fmt.Sprintf("%s. Last response body: %s", errMsg, lastResp.Body)
		}
		return nil, fmt.Errorf("%s", errMsg)
	}

	finalURL := lastResp.FinalUrl
	if finalURL == "" {
		finalURL = targetURL
	}

	if lastResp.Status == 0 {
		errMsg := fmt.Sprintf("browser_tls_fetcher: cycleTLS returned status 0 for %s", finalURL)
		if lastResp.Body != "" {
			errMsg = fmt.Sprintf("%s, body: %s", errMsg, lastResp.Body)
		}
		return nil, fmt.Errorf("%s", errMsg)
	}

	if !isSuccessStatus(lastResp.Status) {
		return nil, &StatusError{URL: finalURL, StatusCode: lastResp.Status}
	}

	body := io.LimitReader(strings.NewReader(lastResp.Body), f.maxBodyBytes)
	decoded, err := charset.NewReader(body, "")
	if err != nil {
		decoded = body
	}

	return &Page{
		Content:    io.NopCloser(decoded),
		FinalURL:   finalURL,
		StatusCode: lastResp.Status,
	}, nil
}

// Close stops the cycleTLS workers. The fetcher must not be used afterwards.
func (f *BrowserTLSFetcher) Close() error {
	f.client.Close()
	return nil
}

// Capabilities implements the Fetcher interface.
// cycleTLS mimics browser TLS but doesn't execute JS.
func (f *BrowserTLSFetcher) Capabilities() FetcherCapabilities {
	return FetcherCapabilities{
		CanExecuteJavaScript: false,
		MimicsBrowserTLS:     true,
	}
}

package fetch

import (
	"context"
	"fmt"
	"io"
)

// FetcherCapabilities describes the optional abilities of a Fetcher implementation.
type FetcherCapabilities struct {
	CanExecuteJavaScript bool // Indicates if the fetcher can execute JavaScript on the page.
	MimicsBrowserTLS     bool // Indicates if the fetcher presents a browser TLS fingerprint.
}

// Page is the upstream response handed back by a Fetcher.
type Page struct {
	// Content is the response body decoded to UTF-8. The caller must close it.
	Content     io.ReadCloser
	FinalURL    string
	ContentType string
	StatusCode  int
}

// Fetcher defines the contract for retrieving web content.
// Implementations are responsible for handling the specifics of fetching,
// including following redirects and returning the final URL.
type Fetcher interface {
	// Fetch issues a single GET for targetURL. Any transport failure or
	// non-2xx status is returned as an error; there are no retries.
	Fetch(ctx context.Context, targetURL string) (*Page, error)

	// Capabilities returns a description of the fetcher's optional abilities.
	Capabilities() FetcherCapabilities
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	t.Parallel() // Run top-level test in parallel if possible

	testCases := []struct {
		name                 string
		targetPath           string
		serverHandler        http.HandlerFunc
		expectFinalPath      string
		expectContent        string
		expectStatusCode     int
		expectErrorSubstring string // If empty, no error is expected
	}{
		{
			name:       "Success - 200 OK",
			targetPath: "/success",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/success", r.URL.Path)
				fmt.Fprintln(w, "Success Body")
			},
			expectFinalPath: "/success",
			expectContent:   "Success Body\n",
		},
		{
			name:       "Success - 203 Non-Authoritative",
			targetPath: "/cached",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNonAuthoritativeInfo)
				fmt.Fprint(w, "<p>proxied</p>")
			},
			expectFinalPath:  "/cached",
			expectContent:    "<p>proxied</p>",
			expectStatusCode: http.StatusNonAuthoritativeInfo,
		},
		{
			name:       "Redirect - 302 Found",
			targetPath: "/redirect",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/redirect" {
					http.Redirect(w, r, "/final-destination", http.StatusFound)
				} else if r.URL.Path == "/final-destination" {
					fmt.Fprintln(w, "Redirected Content")
				} else {
					http.NotFound(w, r)
				}
			},
			expectFinalPath: "/final-destination",
			expectContent:   "Redirected Content\n",
		},
		{
			name:       "Client Error - 404 Not Found",
			targetPath: "/notfound",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			expectErrorSubstring: "request failed with status code 404",
		},
		{
			name:       "Server Error - 500 Internal Server Error",
			targetPath: "/servererror",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			},
			expectErrorSubstring: "request failed with status code 500",
		},
		{
			name:       "Legacy charset is decoded to UTF-8",
			targetPath: "/latin1",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
				w.Write([]byte("<p>caf\xe9</p>"))
			},
			expectFinalPath: "/latin1",
			expectContent:   "<p>café</p>",
		},
	}

	for _, tc := range testCases {
		tc := tc // Capture range variable for parallel runs
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel() // Mark subtest for parallel execution

			server := httptest.NewServer(tc.serverHandler)
			defer server.Close()

			fetcher := NewHTTPFetcher(HTTPOptions{Logger: quietLogger()})

			targetURL := server.URL + tc.targetPath
			page, err := fetcher.Fetch(context.Background(), targetURL)

			if tc.expectErrorSubstring != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.expectErrorSubstring)
				require.Nil(t, page)

				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, page)
			defer page.Content.Close()

			bodyBytes, readErr := io.ReadAll(page.Content)
			require.NoError(t, readErr)

			require.Equal(t, tc.expectContent, string(bodyBytes))
			require.Equal(t, server.URL+tc.expectFinalPath, page.FinalURL)
			if tc.expectStatusCode != 0 {
				require.Equal(t, tc.expectStatusCode, page.StatusCode)
			}
		})
	}
}

func TestHTTPFetcher_Fetch_ConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	targetURL := server.URL + "/gone"
	server.Close()

	fetcher := NewHTTPFetcher(HTTPOptions{Logger: quietLogger()})
	page, err := fetcher.Fetch(context.Background(), targetURL)
	require.Error(t, err)
	require.Nil(t, page)
	require.Contains(t, err.Error(), "http_fetcher: request to")
}

func TestHTTPFetcher_Fetch_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	fetcher := NewHTTPFetcher(HTTPOptions{Timeout: 50 * time.Millisecond, Logger: quietLogger()})
	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
}

func TestHTTPFetcher_Fetch_TruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "0123456789abcdef")
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(HTTPOptions{MaxBodyBytes: 10, Logger: quietLogger()})
	page, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer page.Content.Close()

	body, err := io.ReadAll(page.Content)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(body))
}

func TestHTTPFetcher_Fetch_InjectedClient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "custom-agent", r.Header.Get("User-Agent"))
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer server.Close()

	noRedirects := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	fetcher := NewHTTPFetcher(HTTPOptions{Client: noRedirects, UserAgent: "custom-agent", Logger: quietLogger()})

	_, err := fetcher.Fetch(context.Background(), server.URL)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusFound, statusErr.StatusCode)
	require.Equal(t, FetcherCapabilities{}, fetcher.Capabilities())
}

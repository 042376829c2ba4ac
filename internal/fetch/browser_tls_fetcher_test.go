package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Danny-Dasilva/CycleTLS/cycletls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTLSDoer struct {
	responses []cycletls.Response
	errs      []error
	calls     []cycletls.Options
	closed    bool
}

func (d *fakeTLSDoer) Close() {
	d.closed = true
}

func (d *fakeTLSDoer) Do(URL string, options cycletls.Options, Method string) (cycletls.Response, error) {
	i := len(d.calls)
	d.calls = append(d.calls, options)
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	if i < len(d.responses) {
		return d.responses[i], err
	}
	return cycletls.Response{}, err
}

func TestBrowserTLSFetcher_Fetch(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name                 string
		doer                 *fakeTLSDoer
		expectCalls          int
		expectContent        string
		expectFinalURL       string
		expectErrorSubstring string
	}{
		{
			name: "First profile succeeds",
			doer: &fakeTLSDoer{responses: []cycletls.Response{
				{Status: http.StatusOK, Body: "<p>Yale</p>", FinalUrl: "https://example.com/final"},
			}},
			expectCalls:    1,
			expectContent:  "<p>Yale</p>",
			expectFinalURL: "https://example.com/final",
		},
		{
			name: "403 falls through to second profile",
			doer: &fakeTLSDoer{responses: []cycletls.Response{
				{Status: http.StatusForbidden},
				{Status: http.StatusOK, Body: "ok"},
			}},
			expectCalls:    2,
			expectContent:  "ok",
			expectFinalURL: "https://example.com/",
		},
		{
			name: "Handshake failure falls through",
			doer: &fakeTLSDoer{responses: []cycletls.Response{
				{Status: 0, Body: "remote error: HANDSHAKE_FAILURE"},
				{Status: http.StatusOK, Body: "second"},
			}},
			expectCalls:    2,
			expectContent:  "second",
			expectFinalURL: "https://example.com/",
		},
		{
			name: "All profiles error",
			doer: &fakeTLSDoer{errs: []error{
				errors.New("dial tcp: connection refused"),
				errors.New("dial tcp: connection refused"),
			}},
			expectCalls:          2,
			expectErrorSubstring: "connection refused",
		},
		{
			name: "All profiles forbidden",
			doer: &fakeTLSDoer{responses: []cycletls.Response{
				{Status: http.StatusForbidden},
				{Status: http.StatusForbidden},
			}},
			expectCalls:          2,
			expectErrorSubstring: "request failed with status code 403",
		},
		{
			name: "Non-2xx status",
			doer: &fakeTLSDoer{responses: []cycletls.Response{
				{Status: http.StatusNotFound, Body: "missing"},
			}},
			expectCalls:          1,
			expectErrorSubstring: "request failed with status code 404",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fetcher := newBrowserTLSFetcher(tc.doer, 5*time.Second, 0, quietLogger())
			page, err := fetcher.Fetch(context.Background(), "https://example.com/")

			assert.Len(t, tc.doer.calls, tc.expectCalls)
			if tc.expectErrorSubstring != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.expectErrorSubstring)
				require.Nil(t, page)
				return
			}

			require.NoError(t, err)
			body, err := io.ReadAll(page.Content)
			require.NoError(t, err)
			assert.Equal(t, tc.expectContent, string(body))
			assert.Equal(t, tc.expectFinalURL, page.FinalURL)
			assert.Equal(t, 5, tc.doer.calls[0].Timeout)
		})
	}
}

func TestBrowserTLSFetcher_Fetch_CancelledContext(t *testing.T) {
	t.Parallel()

	doer := &fakeTLSDoer{}
	fetcher := newBrowserTLSFetcher(doer, time.Second, 0, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, "https://example.com/")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, doer.calls)
	assert.True(t, fetcher.Capabilities().MimicsBrowserTLS)
}

func TestBrowserTLSFetcher_Close(t *testing.T) {
	t.Parallel()

	doer := &fakeTLSDoer{}
	fetcher := newBrowserTLSFetcher(doer, time.Second, 0, quietLogger())

	var closer io.Closer = fetcher
	require.NoError(t, closer.Close())
	assert.True(t, doer.closed)
}

package engine

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Doer is the injected HTTP fetch function. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newFetchClient creates an HTTP client with proper settings for web scraping.
func newFetchClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
			DisableCompression:  false,
			TLSHandshakeTimeout: 15 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d for %s", e.StatusCode, e.URL)
}

// FetchWithRetry performs an HTTP GET with retry logic using exponential backoff.
// isHTML controls Accept headers: HTML for web pages, anything for feeds and captions.
// A nil doer uses a dedicated scraping client.
func FetchWithRetry(ctx context.Context, doer Doer, fetchURL string, isHTML bool) (*http.Response, error) {
	if doer == nil {
		doer = newFetchClient()
	}

	operation := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		req.Header.Set("User-Agent", RandomUserAgent())

		if isHTML {
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		} else {
			req.Header.Set("Accept", "*/*")
		}

		req.Header.Set("Accept-Encoding", "gzip")

		resp, err := doer.Do(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		if IsRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: fetchURL}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, URL: fetchURL})
		}

		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3), backoff.WithMaxElapsedTime(30*time.Second))
}

// ReadResponseBody reads at most limit bytes of the body, handling gzip when the
// transport did not already decode it. truncated reports that the cap was hit.
func ReadResponseBody(resp *http.Response, limit int64) (body []byte, truncated bool, err error) {
	var r io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" && !resp.Uncompressed {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, err
		}
		defer gz.Close()
		r = gz
	}
	return ReadCapped(r, limit)
}

// ReadCapped reads up to limit bytes from r. It never allocates more than limit+1
// bytes regardless of what the server advertised.
func ReadCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// DoBounded sends req through doer and returns at most limit bytes of a 2xx body.
func DoBounded(doer Doer, req *http.Request, limit int64) ([]byte, error) {
	resp, err := doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _, _ := ReadCapped(resp.Body, 256)
		return nil, fmt.Errorf("%w: %s", &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}, snippet)
	}
	body, _, err := ReadCapped(resp.Body, limit)
	return body, err
}

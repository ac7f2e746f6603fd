package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// Body caps per resource type.
const (
	maxCaptionBytes = 4 * 1024 * 1024
	maxFeedBytes    = 10 * 1024 * 1024
	maxAPIBytes     = 8 * 1024 * 1024
)

// fetchPage GETs an HTML page with retry, capped at engine.Cfg.MaxHTMLBytes.
func fetchPage(ctx context.Context, opts FetchOptions, pageURL string) (string, error) {
	body, err := fetchBytes(ctx, opts, pageURL, true, engine.Cfg.MaxHTMLBytes)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// fetchBytes GETs url with retry and returns at most limit bytes.
func fetchBytes(ctx context.Context, opts FetchOptions, rawURL string, isHTML bool, limit int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, engine.Cfg.FetchTimeout)
	defer cancel()
	resp, err := engine.FetchWithRetry(ctx, opts.doer(), rawURL, isHTML)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _, err := engine.ReadResponseBody(resp, limit)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

// postJSON POSTs payload and decodes a capped JSON reply into out.
func postJSON(ctx context.Context, doer engine.Doer, endpoint string, headers map[string]string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return doer.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _, err := engine.ReadCapped(resp.Body, maxAPIBytes)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", &engine.StatusError{StatusCode: resp.StatusCode, URL: endpoint}, engine.Truncate(string(body), 256))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

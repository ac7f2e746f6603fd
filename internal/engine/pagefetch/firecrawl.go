package pagefetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

type firecrawlRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		HTML     string `json:"html"`
		Markdown string `json:"markdown"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"data"`
}

// firecrawl renders the page through the Firecrawl scrape API.
func (f *Fetcher) firecrawl(ctx context.Context, rawURL string) (page string, err error) {
	f.Progress.Emit(engine.FirecrawlStart{URL: rawURL})
	defer func() { f.Progress.Emit(engine.FirecrawlDone{URL: rawURL, OK: err == nil}) }()

	endpoint := f.FirecrawlURL
	if endpoint == "" {
		endpoint = defaultFirecrawlURL
	}
	payload, err := json.Marshal(firecrawlRequest{URL: rawURL, Formats: []string{"html", "markdown"}})
	if err != nil {
		return "", err
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", engine.UserAgentBot)
		req.Header.Set("Authorization", "Bearer "+f.FirecrawlKey)
		return f.doer().Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _, err := engine.ReadCapped(resp.Body, f.limit()*2)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", &engine.StatusError{StatusCode: resp.StatusCode, URL: endpoint}, engine.Truncate(string(body), 256))
	}

	var out firecrawlResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode firecrawl: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "unsuccessful scrape"
		}
		return "", errors.New("firecrawl: " + out.Error)
	}
	if strings.TrimSpace(out.Data.HTML) != "" {
		return out.Data.HTML, nil
	}
	if strings.TrimSpace(out.Data.Markdown) == "" {
		return "", ErrEmptyPage
	}
	_, _, isStatus := engine.XStatus(rawURL)
	return markdownPage(out.Data.Metadata.Title, out.Data.Markdown, isStatus), nil
}

// markdownPage wraps scraped markdown so HTML consumers can read it.
func markdownPage(title, md string, tweet bool) string {
	class := "content"
	if tweet {
		class = "tweet-content"
	}
	var b strings.Builder
	b.WriteString("<html><head><title>" + html.EscapeString(title) + "</title></head><body><article>")
	for _, para := range strings.Split(strings.TrimSpace(md), "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			b.WriteString(`<div class="` + class + `">` + html.EscapeString(para) + "</div>")
		}
	}
	b.WriteString("</article></body></html>")
	return b.String()
}

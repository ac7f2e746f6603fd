// Package pagefetch downloads the HTML a provider inspects, with X/Twitter fallbacks.
package pagefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// Steps that can produce a page.
const (
	ViaDirect    = "direct"
	ViaBird      = "bird"
	ViaNitter    = "nitter"
	ViaFirecrawl = "firecrawl"
)

const defaultFirecrawlURL = "https://api.firecrawl.dev/v1/scrape"

// ErrEmptyPage is returned by a step that answered without usable HTML.
var ErrEmptyPage = errors.New("empty page")

// Page is fetched HTML plus the step that produced it.
type Page struct {
	URL   string
	HTML  string
	Title string
	Via   string
}

// Fetcher resolves a URL to HTML. Zero-value fields disable their step.
type Fetcher struct {
	HTTP         engine.Doer
	Browser      *engine.BrowserClient
	Search       SearchFunc
	NitterURL    string
	FirecrawlKey string
	FirecrawlURL string
	MaxBytes     int64
	Progress     engine.ProgressSink
}

// New builds a Fetcher from the engine configuration.
func New(progress engine.ProgressSink) *Fetcher {
	c := engine.Cfg
	f := &Fetcher{
		HTTP:         c.HTTPClient,
		Browser:      c.BrowserClient,
		NitterURL:    c.NitterURL,
		FirecrawlKey: c.FirecrawlAPIKey,
		MaxBytes:     c.MaxHTMLBytes,
		Progress:     progress,
	}
	if c.TwitterClient != nil {
		f.Search = TwitterSearch(c.TwitterClient)
	}
	return f
}

type step struct {
	name string
	run  func(context.Context, string) (string, error)
}

func (f *Fetcher) steps(rawURL string) []step {
	direct := step{ViaDirect, f.direct}
	var firecrawl []step
	if f.FirecrawlKey != "" {
		firecrawl = []step{{ViaFirecrawl, f.firecrawl}}
	}
	user, id, ok := engine.XStatus(rawURL)
	if !ok {
		return append([]step{direct}, firecrawl...)
	}
	var out []step
	if f.Search != nil {
		out = append(out, step{ViaBird, func(ctx context.Context, u string) (string, error) {
			return f.bird(ctx, u, id)
		}})
	}
	if f.NitterURL != "" {
		out = append(out, step{ViaNitter, func(ctx context.Context, u string) (string, error) {
			return f.nitter(ctx, u, user, id)
		}})
	}
	out = append(out, firecrawl...)
	return append(out, direct)
}

// Fetch runs the applicable steps in order and returns the first non-empty page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	engine.IncrHTMLFetch()
	var errs []error
	for _, s := range f.steps(rawURL) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		html, err := s.run(ctx, rawURL)
		if err == nil && strings.TrimSpace(html) == "" {
			err = ErrEmptyPage
		}
		if err != nil {
			slog.Debug("page step failed", slog.String("step", s.name), slog.String("url", rawURL), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		return &Page{URL: rawURL, HTML: html, Title: Title(html), Via: s.name}, nil
	}
	engine.IncrHTMLFetchError()
	return nil, errors.Join(errs...)
}

// Title returns the document title, falling back to og:title.
func Title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).First().Attr("content")
		title = strings.TrimSpace(title)
	}
	return title
}

func (f *Fetcher) doer() engine.Doer {
	return engine.DoerOrDefault(f.HTTP)
}

func (f *Fetcher) limit() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return engine.Cfg.MaxHTMLBytes
}

package pagefetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

var errNitterNoContent = errors.New("nitter page has no tweet content")

// nitter reads the status page from a Nitter mirror.
func (f *Fetcher) nitter(ctx context.Context, rawURL, user, id string) (page string, err error) {
	f.Progress.Emit(engine.NitterStart{URL: rawURL})
	defer func() { f.Progress.Emit(engine.NitterDone{URL: rawURL, OK: err == nil}) }()

	ctx, cancel := context.WithTimeout(ctx, engine.Cfg.FetchTimeout)
	defer cancel()

	mirror := strings.TrimRight(f.NitterURL, "/") + "/" + user + "/status/" + id
	resp, err := engine.FetchWithRetry(ctx, f.doer(), mirror, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _, err := engine.ReadResponseBody(resp, f.limit())
	if err != nil {
		return "", fmt.Errorf("read %s: %w", mirror, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.Find(".tweet-content").Text()) == "" {
		return "", errNitterNoContent
	}
	return string(body), nil
}

package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

const defaultApifyActor = "pintostudio~youtube-transcript-scraper"

var (
	apifyBaseURL = "https://api.apify.com/v2"
	// Actor runs are billed and slow; one start per two seconds per process.
	apifyLimiter = rate.NewLimiter(rate.Every(2*time.Second), 1)
)

// apifyItem tolerates the output shapes of common transcript actors.
type apifyItem struct {
	Data       []apifyLine     `json:"data"`
	Transcript json.RawMessage `json:"transcript"`
	Text       string          `json:"text"`
}

type apifyLine struct {
	Start json.RawMessage `json:"start"`
	Text  string          `json:"text"`
}

func (l apifyLine) startMs() int64 {
	raw := strings.Trim(string(l.Start), `"`)
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int64(secs * 1000)
}

// fetchApify runs the transcript actor synchronously and renders its dataset.
func fetchApify(ctx context.Context, opts FetchOptions, videoURL string) (string, error) {
	if err := apifyLimiter.Wait(ctx); err != nil {
		return "", err
	}
	actor := engine.Cfg.ApifyActor
	if actor == "" {
		actor = defaultApifyActor
	}
	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		apifyBaseURL, url.PathEscape(actor), url.QueryEscape(opts.ApifyToken))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()
	var items []apifyItem
	if err := postJSON(ctx, opts.doer(), endpoint, nil, map[string]any{"videoUrl": videoURL}, &items); err != nil {
		return "", fmt.Errorf("apify: %w", err)
	}
	text := renderApifyItems(items, opts.Timestamps)
	if text == "" {
		return "", errors.New("apify: empty dataset")
	}
	return text, nil
}

func renderApifyItems(items []apifyItem, timestamps bool) string {
	var segs []segment
	for _, it := range items {
		for _, l := range it.Data {
			segs = append(segs, segment{StartMs: l.startMs(), Text: l.Text})
		}
		if len(it.Transcript) > 0 {
			var s string
			var lines []apifyLine
			switch {
			case json.Unmarshal(it.Transcript, &s) == nil:
				segs = append(segs, segment{Text: s})
			case json.Unmarshal(it.Transcript, &lines) == nil:
				for _, l := range lines {
					segs = append(segs, segment{StartMs: l.startMs(), Text: l.Text})
				}
			}
		}
		if it.Text != "" && len(it.Data) == 0 && len(it.Transcript) == 0 {
			segs = append(segs, segment{Text: it.Text})
		}
	}
	return renderSegments(segs, timestamps)
}

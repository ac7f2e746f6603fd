package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
)

// Podcast resolves feed URLs, Apple Podcasts pages and pages advertising an
// RSS alternate link to one episode, then prefers a published transcript
// over transcribing the enclosure.
type Podcast struct{}

const podcastService = "podcast"

var (
	itunesLookupURL = "https://itunes.apple.com/lookup"
	// The lookup API allows roughly 20 calls per minute.
	itunesLimiter = rate.NewLimiter(rate.Every(3*time.Second), 2)

	applePodcastRE = regexp.MustCompile(`^https?://podcasts\.apple\.com/.*/id(\d+)`)
)

func (p *Podcast) Name() string { return podcastService }

func (p *Podcast) CanHandle(pc ProviderContext) bool {
	if isFeedURL(pc.URL) || applePodcastRE.MatchString(pc.URL) {
		return true
	}
	return pc.HTML != "" && rssAlternate(pc.HTML, pc.URL) != ""
}

// isFeedURL matches .rss/.xml paths and /feed endpoints.
func isFeedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	p := strings.ToLower(strings.TrimSuffix(u.Path, "/"))
	return strings.HasSuffix(p, ".rss") || strings.HasSuffix(p, ".xml") ||
		strings.HasSuffix(p, "/feed") || strings.HasSuffix(p, "/rss")
}

// rssAlternate returns the first <link rel="alternate"> RSS/Atom href,
// resolved against base.
func rssAlternate(page, base string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "body" {
				return ""
			}
			if tok.Data != "link" {
				continue
			}
			var rel, typ, href string
			for _, a := range tok.Attr {
				switch strings.ToLower(a.Key) {
				case "rel":
					rel = strings.ToLower(a.Val)
				case "type":
					typ = strings.ToLower(a.Val)
				case "href":
					href = a.Val
				}
			}
			if !strings.Contains(rel, "alternate") || href == "" {
				continue
			}
			if typ == "application/rss+xml" || typ == "application/atom+xml" {
				return resolveRef(base, href)
			}
		}
	}
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// episodeHint narrows which feed item the caller meant.
type episodeHint struct {
	GUID      string
	Link      string
	Title     string
	Enclosure string
}

func (p *Podcast) FetchTranscript(ctx context.Context, pc ProviderContext, opts FetchOptions) (*ProviderResult, error) {
	engine.IncrPodcastAttempt()
	res := newResult()

	feedURL, hint, err := p.resolveFeed(ctx, pc, opts)
	if err != nil {
		slog.Warn("podcast: feed not resolved", slog.String("url", pc.URL), slog.Any("error", err))
		res.note("podcast feed unavailable: %v", err)
		return res, nil
	}
	res.Metadata["feedUrl"] = feedURL

	data, err := fetchBytes(ctx, opts, feedURL, false, maxFeedBytes)
	if err != nil {
		res.note("podcast feed fetch failed: %v", err)
		return res, nil
	}
	feed, err := gofeed.NewParser().ParseString(string(data))
	if err != nil {
		res.note("podcast feed parse failed: %v", err)
		return res, nil
	}
	if feed.Title != "" {
		res.Metadata["podcastTitle"] = feed.Title
	}
	item := pickEpisode(feed.Items, hint)
	if item == nil {
		res.note("podcast feed has no usable episodes")
		return res, nil
	}
	if item.Title != "" {
		res.Metadata["episodeTitle"] = item.Title
	}
	if item.GUID != "" {
		res.Metadata["episodeGuid"] = item.GUID
	}

	if links := transcriptLinks(item); len(links) > 0 {
		res.attempt(SourcePodcastTranscript)
		opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: podcastService, Hint: "podcast:transcript " + links[0].Type})
		text, err := p.publishedTranscript(ctx, opts, links)
		opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: podcastService, OK: err == nil, Source: string(SourcePodcastTranscript)})
		if err == nil {
			return res.found(text, SourcePodcastTranscript), nil
		}
		res.note("podcast transcript unusable: %v", err)
	}

	enclosure := enclosureURL(item)
	if enclosure == "" {
		enclosure = hint.Enclosure
	}
	if enclosure == "" {
		res.note("episode has no audio enclosure")
		return res, nil
	}
	res.Metadata["enclosureUrl"] = enclosure
	eng := opts.mediaEngine()
	if !eng.Available() {
		res.Reason = ReasonMissingTranscriptionCredentials
		return res, nil
	}
	res.attempt(SourceWhisper)
	opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: podcastService, Hint: "enclosure via " + eng.Hint()})
	mr, err := eng.Transcribe(ctx, media.Request{
		URL:      enclosure,
		Service:  podcastService,
		Language: firstLanguage(opts),
		Progress: opts.Progress,
	})
	opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: podcastService, OK: err == nil, Source: string(SourceWhisper)})
	if err != nil {
		if errors.Is(err, media.ErrMediaTooLarge) {
			return res, err
		}
		res.note("podcast transcription failed: %v", err)
		return res, nil
	}
	res.Notes = append(res.Notes, mr.Notes...)
	res.Metadata["transcriptionBackend"] = mr.Backend
	return res.found(mr.Text, SourceWhisper), nil
}

// resolveFeed turns the input into a feed URL plus an optional episode hint.
func (p *Podcast) resolveFeed(ctx context.Context, pc ProviderContext, opts FetchOptions) (string, episodeHint, error) {
	if m := applePodcastRE.FindStringSubmatch(pc.URL); m != nil {
		episodeID := ""
		if u, err := url.Parse(pc.URL); err == nil {
			episodeID = u.Query().Get("i")
		}
		return itunesLookup(ctx, opts, m[1], episodeID)
	}
	if isFeedURL(pc.URL) {
		return pc.URL, feedHintFromURL(pc.URL), nil
	}
	if feed := rssAlternate(pc.HTML, pc.URL); feed != "" {
		return feed, episodeHint{Link: pc.URL}, nil
	}
	return "", episodeHint{}, errors.New("no feed link")
}

// feedHintFromURL reads an episode guid passed as ?guid= or #guid on a feed URL.
func feedHintFromURL(raw string) episodeHint {
	u, err := url.Parse(raw)
	if err != nil {
		return episodeHint{}
	}
	if g := u.Query().Get("guid"); g != "" {
		return episodeHint{GUID: g}
	}
	return episodeHint{GUID: u.Fragment}
}

type itunesResult struct {
	WrapperType string `json:"wrapperType"`
	Kind        string `json:"kind"`
	TrackID     int64  `json:"trackId"`
	TrackName   string `json:"trackName"`
	FeedURL     string `json:"feedUrl"`
	EpisodeGUID string `json:"episodeGuid"`
	EpisodeURL  string `json:"episodeUrl"`
}

type itunesLookupResp struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

// itunesLookup resolves an Apple Podcasts id to its feed URL. When episodeID
// is set the episode list is requested too, so the ?i= id maps to a GUID.
func itunesLookup(ctx context.Context, opts FetchOptions, podcastID, episodeID string) (string, episodeHint, error) {
	if err := itunesLimiter.Wait(ctx); err != nil {
		return "", episodeHint{}, err
	}
	q := url.Values{"id": {podcastID}}
	if episodeID != "" {
		q.Set("entity", "podcastEpisode")
		q.Set("limit", "200")
	}
	data, err := fetchBytes(ctx, opts, itunesLookupURL+"?"+q.Encode(), false, maxAPIBytes)
	if err != nil {
		return "", episodeHint{}, fmt.Errorf("itunes lookup: %w", err)
	}
	var resp itunesLookupResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", episodeHint{}, fmt.Errorf("itunes lookup: %w", err)
	}
	var feedURL string
	var hint episodeHint
	for _, r := range resp.Results {
		if feedURL == "" && r.FeedURL != "" {
			feedURL = r.FeedURL
		}
		if episodeID != "" && fmt.Sprint(r.TrackID) == episodeID {
			hint = episodeHint{GUID: r.EpisodeGUID, Title: r.TrackName, Enclosure: r.EpisodeURL}
		}
	}
	if feedURL == "" {
		return "", episodeHint{}, fmt.Errorf("itunes lookup: no feed for id %s", podcastID)
	}
	return feedURL, hint, nil
}

// pickEpisode matches hint by GUID, then link, then title; otherwise the most
// recently published item. Items with neither audio nor transcript are skipped.
func pickEpisode(items []*gofeed.Item, hint episodeHint) *gofeed.Item {
	usable := make([]*gofeed.Item, 0, len(items))
	for _, it := range items {
		if it == nil || (enclosureURL(it) == "" && len(transcriptLinks(it)) == 0) {
			continue
		}
		usable = append(usable, it)
	}
	if len(usable) == 0 {
		return nil
	}
	if hint.GUID != "" {
		for _, it := range usable {
			if it.GUID == hint.GUID {
				return it
			}
		}
	}
	if hint.Link != "" {
		want := strings.TrimSuffix(hint.Link, "/")
		for _, it := range usable {
			if it.Link != "" && strings.TrimSuffix(it.Link, "/") == want {
				return it
			}
		}
	}
	if hint.Title != "" {
		for _, it := range usable {
			if strings.EqualFold(strings.TrimSpace(it.Title), strings.TrimSpace(hint.Title)) {
				return it
			}
		}
	}
	if hint.Enclosure != "" {
		for _, it := range usable {
			if enclosureURL(it) == hint.Enclosure {
				return it
			}
		}
	}
	latest := usable[0]
	for _, it := range usable[1:] {
		if it.PublishedParsed != nil && (latest.PublishedParsed == nil || it.PublishedParsed.After(*latest.PublishedParsed)) {
			latest = it
		}
	}
	return latest
}

func enclosureURL(it *gofeed.Item) string {
	for _, e := range it.Enclosures {
		if e == nil || e.URL == "" {
			continue
		}
		if e.Type == "" || strings.HasPrefix(e.Type, "audio/") || strings.HasPrefix(e.Type, "video/") {
			return e.URL
		}
	}
	return ""
}

type transcriptLink struct {
	URL  string
	Type string
}

// transcript MIME types in preference order.
var transcriptTypeRank = map[string]int{
	"text/vtt":             0,
	"application/x-subrip": 1,
	"application/srt":      1,
	"text/srt":             1,
	"application/json":     2,
	"text/html":            3,
	"text/plain":           4,
}

// transcriptLinks lists <podcast:transcript> tags, best format first.
func transcriptLinks(it *gofeed.Item) []transcriptLink {
	var out []transcriptLink
	for _, e := range it.Extensions["podcast"]["transcript"] {
		u := e.Attrs["url"]
		if u == "" {
			continue
		}
		out = append(out, transcriptLink{URL: u, Type: strings.ToLower(strings.TrimSpace(e.Attrs["type"]))})
	}
	rank := func(t string) int {
		if r, ok := transcriptTypeRank[t]; ok {
			return r
		}
		return len(transcriptTypeRank)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j].Type) < rank(out[j-1].Type); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (p *Podcast) publishedTranscript(ctx context.Context, opts FetchOptions, links []transcriptLink) (string, error) {
	var errs []error
	for _, l := range links {
		data, err := fetchBytes(ctx, opts, l.URL, false, maxCaptionBytes)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		text, err := renderTranscriptBody(data, l.Type, opts.Timestamps)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Type, err))
			continue
		}
		return text, nil
	}
	return "", errors.Join(errs...)
}

// renderTranscriptBody converts a published transcript of the given MIME type
// to text.
func renderTranscriptBody(data []byte, mimeType string, timestamps bool) (string, error) {
	var text string
	switch mimeType {
	case "text/vtt", "application/x-subrip", "application/srt", "text/srt":
		text = renderSegments(parseCues(string(data)), timestamps)
	case "application/json":
		segs, err := parseJSONTranscript(data)
		if err != nil {
			return "", err
		}
		text = renderSegments(segs, timestamps)
	case "text/html":
		md, err := htmltomarkdown.ConvertString(string(data))
		if err != nil {
			return "", err
		}
		text = md
	default:
		text = string(data)
		if strings.Contains(text, "-->") {
			if segs := parseCues(text); len(segs) > 0 {
				text = renderSegments(segs, timestamps)
			}
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty transcript")
	}
	return text, nil
}

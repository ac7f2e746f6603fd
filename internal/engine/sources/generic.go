package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
)

// Generic is the catch-all provider: local files, direct media links, pages
// with embedded captions or transcripts, X posts, and pages exposing a media
// element.
type Generic struct{}

const (
	genericService = "generic"
	xService       = "x"

	// Shorter page blocks are navigation or teasers, not transcripts.
	minHTMLTranscriptChars = 200
)

var (
	mediaExts = map[string]bool{
		".mp3": true, ".m4a": true, ".wav": true, ".ogg": true, ".oga": true,
		".opus": true, ".flac": true, ".aac": true, ".mp4": true, ".m4v": true,
		".webm": true, ".mov": true, ".mkv": true, ".mpga": true,
	}
)

// IsMediaURL reports whether the URL path ends in a known audio/video extension.
func IsMediaURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return mediaExts[strings.ToLower(path.Ext(u.Path))]
}

func (g *Generic) Name() string { return genericService }

func (g *Generic) CanHandle(ProviderContext) bool { return true }

func (g *Generic) FetchTranscript(ctx context.Context, pc ProviderContext, opts FetchOptions) (*ProviderResult, error) {
	engine.IncrGenericAttempt()
	res := newResult()

	if p, ok := media.LocalPath(pc.URL); ok {
		return g.transcribeMedia(ctx, pc, opts, res, p, genericService, "local file")
	}
	if IsMediaURL(pc.URL) {
		return g.transcribeMedia(ctx, pc, opts, res, pc.URL, genericService, "direct media link")
	}

	page := pc.HTML
	if page == "" {
		var err error
		if page, err = fetchPage(ctx, opts, pc.URL); err != nil {
			res.note("page fetch failed: %v", err)
		}
	}
	var doc *goquery.Document
	if page != "" {
		d, err := goquery.NewDocumentFromReader(strings.NewReader(page))
		if err != nil {
			res.note("page parse failed: %v", err)
		} else {
			doc = d
		}
	}

	if doc != nil {
		if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			res.Metadata["title"] = title
		}
		if text, ok := g.embedded(ctx, pc, opts, res, doc); ok {
			return res.found(text, SourceEmbedded), nil
		}
		if text := pageTranscriptBlock(doc); text != "" {
			res.attempt(SourceHTML)
			return res.found(text, SourceHTML), nil
		}
	}

	if _, id, ok := engine.XStatus(pc.URL); ok {
		res.Metadata["tweetId"] = id
		return g.xStatus(ctx, pc, opts, res, doc)
	}

	if doc != nil {
		if mediaURL := pageMediaURL(doc, pc.URL); mediaURL != "" {
			return g.transcribeMedia(ctx, pc, opts, res, mediaURL, genericService, "page media element")
		}
	}
	return res, nil
}

// embedded tries <track> caption files, then a JSON-LD transcript.
func (g *Generic) embedded(ctx context.Context, pc ProviderContext, opts FetchOptions, res *ProviderResult, doc *goquery.Document) (string, bool) {
	tracks := captionTrackURLs(doc, pc.URL, opts.languages())
	ldText := jsonLDTranscript(doc)
	if len(tracks) == 0 && ldText == "" {
		return "", false
	}
	res.attempt(SourceEmbedded)
	opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: genericService, Hint: "embedded captions"})
	for _, t := range tracks {
		data, err := fetchBytes(ctx, opts, t, false, maxCaptionBytes)
		if err != nil {
			res.note("caption track %s: %v", t, err)
			continue
		}
		if text := renderSegments(parseCues(string(data)), opts.Timestamps); text != "" {
			opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: genericService, OK: true, Source: string(SourceEmbedded)})
			return text, true
		}
	}
	ok := ldText != ""
	opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: genericService, OK: ok, Source: string(SourceEmbedded)})
	return ldText, ok
}

// captionTrackURLs lists <track kind=captions|subtitles> sources, preferred
// languages first.
func captionTrackURLs(doc *goquery.Document, base string, langs []string) []string {
	type track struct{ src, lang string }
	var all []track
	doc.Find("track[src]").Each(func(_ int, s *goquery.Selection) {
		kind := strings.ToLower(s.AttrOr("kind", "subtitles"))
		if kind != "captions" && kind != "subtitles" {
			return
		}
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return
		}
		all = append(all, track{src: resolveRef(base, src), lang: strings.ToLower(s.AttrOr("srclang", ""))})
	})
	out := make([]string, 0, len(all))
	seen := map[string]bool{}
	add := func(src string) {
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	for _, l := range langs {
		for _, t := range all {
			if t.lang == strings.ToLower(l) || strings.HasPrefix(t.lang, strings.ToLower(l)+"-") {
				add(t.src)
			}
		}
	}
	for _, t := range all {
		add(t.src)
	}
	return out
}

// jsonLDTranscript returns the first "transcript" string in any JSON-LD block.
func jsonLDTranscript(doc *goquery.Document) string {
	var found string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return true
		}
		if t := findTranscriptField(v); t != "" {
			found = engine.NormalizeText(engine.CleanHTML(t))
		}
		return found == ""
	})
	return found
}

func findTranscriptField(v any) string {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t["transcript"].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
		for _, k := range []string{"@graph", "video", "associatedMedia", "mainEntity"} {
			if s := findTranscriptField(t[k]); s != "" {
				return s
			}
		}
	case []any:
		for _, x := range t {
			if s := findTranscriptField(x); s != "" {
				return s
			}
		}
	}
	return ""
}

// pageTranscriptBlock returns the text of an element whose id or class names it
// a transcript, when long enough to be one.
func pageTranscriptBlock(doc *goquery.Document) string {
	var text string
	doc.Find(`[id*="transcript"], [class*="transcript"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "script" || goquery.NodeName(s) == "style" {
			return true
		}
		t := engine.NormalizeText(s.Text())
		if len(t) >= minHTMLTranscriptChars {
			text = t
			return false
		}
		return true
	})
	return text
}

// pageMediaURL finds og:video/og:audio and <video>/<audio> sources.
func pageMediaURL(doc *goquery.Document, base string) string {
	for _, prop := range []string{"og:audio", "og:audio:url", "og:audio:secure_url", "og:video:secure_url", "og:video:url", "og:video"} {
		u := strings.TrimSpace(doc.Find(fmt.Sprintf(`meta[property=%q]`, prop)).First().AttrOr("content", ""))
		if u == "" {
			continue
		}
		typeProp := "og:video:type"
		if strings.HasPrefix(prop, "og:audio") {
			typeProp = "og:audio:type"
		}
		typ := doc.Find(fmt.Sprintf(`meta[property=%q]`, typeProp)).First().AttrOr("content", "")
		if IsMediaURL(u) || strings.HasPrefix(typ, "audio/") || strings.HasPrefix(typ, "video/") {
			return resolveRef(base, u)
		}
	}
	var found string
	doc.Find("audio, video").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(s.Find("source[src]").First().AttrOr("src", ""))
		}
		if src == "" || strings.HasPrefix(src, "blob:") || strings.HasPrefix(src, "data:") {
			return true
		}
		found = resolveRef(base, src)
		return false
	})
	return found
}

// xStatus downloads the post's video with yt-dlp when possible, else returns
// the post text from the page.
func (g *Generic) xStatus(ctx context.Context, pc ProviderContext, opts FetchOptions, res *ProviderResult, doc *goquery.Document) (*ProviderResult, error) {
	eng := opts.mediaEngine()
	if opts.YtDlpPath != "" && eng.Available() {
		var browser string
		if opts.CookieResolver != nil {
			spec := opts.CookieResolver(ctx)
			browser = spec.CookiesFromBrowser
			for _, w := range spec.Warnings {
				res.note("cookies: %s", w)
			}
		}
		res.attempt(SourceYtDlp)
		opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: xService, Hint: "yt-dlp post video"})
		mr, err := ytdlpTranscribe(ctx, opts, eng, pc.URL, xService, browser)
		opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: xService, OK: err == nil, Source: string(SourceYtDlp)})
		if err == nil && mr.Text != "" {
			res.Notes = append(res.Notes, mr.Notes...)
			res.Metadata["transcriptionBackend"] = mr.Backend
			return res.found(mr.Text, SourceYtDlp), nil
		}
		if errors.Is(err, media.ErrMediaTooLarge) {
			return res, err
		}
		slog.Debug("x: yt-dlp found no video", slog.String("url", pc.URL), slog.Any("error", err))
		res.note("yt-dlp: %v", err)
	}

	if doc == nil {
		return res, nil
	}
	res.attempt(SourceTweet)
	if text := tweetText(doc); text != "" {
		return res.found(text, SourceTweet), nil
	}
	return res, nil
}

// tweetText reads post text from nitter markup, x.com markup or the page's
// description meta tags, in that order.
func tweetText(doc *goquery.Document) string {
	var parts []string
	doc.Find(".tweet-content, [data-testid=tweetText]").Each(func(_ int, s *goquery.Selection) {
		if t := engine.NormalizeText(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	for _, sel := range []string{`meta[property="og:description"]`, `meta[name="twitter:description"]`, `meta[name="description"]`} {
		if t := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); t != "" {
			return engine.NormalizeText(t)
		}
	}
	return ""
}

// transcribeMedia sends one media URL or path through the media engine.
func (g *Generic) transcribeMedia(ctx context.Context, pc ProviderContext, opts FetchOptions, res *ProviderResult, src, service, hint string) (*ProviderResult, error) {
	res.Metadata["mediaUrl"] = src
	eng := opts.mediaEngine()
	if !eng.Available() {
		res.Reason = ReasonMissingTranscriptionCredentials
		res.note("no transcription backend configured")
		return res, nil
	}
	res.attempt(SourceWhisper)
	opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: service, Hint: hint})
	mr, err := eng.Transcribe(ctx, media.Request{
		URL:      src,
		Label:    pc.URL,
		Service:  service,
		Language: firstLanguage(opts),
		Progress: opts.Progress,
	})
	opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: service, OK: err == nil, Source: string(SourceWhisper)})
	if err != nil {
		if errors.Is(err, media.ErrMediaTooLarge) {
			return res, err
		}
		res.note("transcription failed: %v", err)
		return res, nil
	}
	res.Notes = append(res.Notes, mr.Notes...)
	res.Metadata["transcriptionBackend"] = mr.Backend
	if mr.Parts > 1 {
		res.Metadata["parts"] = mr.Parts
	}
	return res.found(mr.Text, SourceWhisper), nil
}

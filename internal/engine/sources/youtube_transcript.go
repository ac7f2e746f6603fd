package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// segment is one timed line of a transcript.
type segment struct {
	StartMs int64
	Text    string
}

// renderSegments joins segments as "[mm:ss] text" lines when timestamps is set,
// otherwise as a single space-joined paragraph.
func renderSegments(segs []segment, timestamps bool) string {
	var sb strings.Builder
	for _, s := range segs {
		text := strings.Join(strings.Fields(engine.CleanHTML(s.Text)), " ")
		if text == "" {
			continue
		}
		if timestamps {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(engine.FormatTimestamp(s.StartMs))
			sb.WriteByte(' ')
		} else if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// --- youtubei: POST /youtubei/v1/get_transcript ---

func parseTranscriptSegments(resp ytGetTranscriptResp) []segment {
	var out []segment
	for _, action := range resp.Actions {
		if action.UpdateEngagementPanelAction == nil {
			continue
		}
		segs := action.UpdateEngagementPanelAction.Content.
			TranscriptRenderer.Content.
			TranscriptSearchPanelRenderer.Body.
			TranscriptSegmentListRenderer.InitialSegments
		for _, seg := range segs {
			r := seg.TranscriptSegmentRenderer
			if r == nil {
				continue
			}
			var sb strings.Builder
			for _, run := range r.Snippet.Runs {
				sb.WriteString(run.Text)
			}
			start, _ := strconv.ParseInt(r.StartMs, 10, 64)
			out = append(out, segment{StartMs: start, Text: sb.String()})
		}
	}
	return out
}

// fetchYoutubei uses the transcript panel endpoint with the page's own API key
// and client context.
func fetchYoutubei(ctx context.Context, doer engine.Doer, html string, timestamps bool) (string, error) {
	cfg, err := extractPageConfig(html)
	if err != nil {
		return "", err
	}
	data, err := postInnerTubeWEB(ctx, doer, ytGetTranscriptURL, map[string]any{
		"context": cfg.Context,
		"params":  cfg.Params,
	}, cfg)
	if err != nil {
		return "", fmt.Errorf("/get_transcript: %w", err)
	}
	var resp ytGetTranscriptResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	text := renderSegments(parseTranscriptSegments(resp), timestamps)
	if text == "" {
		return "", errors.New("empty transcript segments")
	}
	return text, nil
}

// --- captionTracks: ytInitialPlayerResponse → baseUrl ---

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack selects a usable caption track for the language preferences:
// manual tracks first, then auto-generated ones unless skipASR, then English,
// then anything left.
func pickBestTrack(tracks []captionTrack, langs []string, skipASR bool) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if needsPoToken(t.BaseURL) || (skipASR && t.Kind == "asr") {
			continue
		}
		usable = append(usable, t)
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

type json3Captions struct {
	Events []struct {
		TStartMs int64 `json:"tStartMs"`
		Segs     []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func parseJSON3(data []byte) ([]segment, error) {
	var c json3Captions
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	var out []segment
	for _, ev := range c.Events {
		var sb strings.Builder
		for _, s := range ev.Segs {
			sb.WriteString(s.UTF8)
		}
		if strings.TrimSpace(sb.String()) == "" {
			continue
		}
		out = append(out, segment{StartMs: ev.TStartMs, Text: sb.String()})
	}
	return out, nil
}

// ytTimedText covers both timedtext XML shapes: <transcript><text start=…> and
// format 3 <timedtext><body><p t=…>.
type ytTimedText struct {
	Lines []struct {
		Start string `xml:"start,attr"`
		Text  string `xml:",chardata"`
	} `xml:"text"`
	Body struct {
		Paras []struct {
			T    int64  `xml:"t,attr"`
			Text string `xml:",innerxml"`
		} `xml:"p"`
	} `xml:"body"`
}

func parseTimedText(data []byte) ([]segment, error) {
	var tt ytTimedText
	if err := xml.Unmarshal(data, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}
	var out []segment
	for _, l := range tt.Lines {
		secs, _ := strconv.ParseFloat(l.Start, 64)
		out = append(out, segment{StartMs: int64(secs * 1000), Text: l.Text})
	}
	for _, p := range tt.Body.Paras {
		out = append(out, segment{StartMs: p.T, Text: p.Text})
	}
	return out, nil
}

// withQuery sets key=value on rawURL.
func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// fetchCaptionTrack downloads a track as json3, falling back to timedtext XML.
func fetchCaptionTrack(ctx context.Context, opts FetchOptions, track captionTrack) (string, error) {
	base := track.BaseURL
	if strings.HasPrefix(base, "/") {
		base = ytBaseURL + base
	}
	if data, err := fetchBytes(ctx, opts, withQuery(base, "fmt", "json3"), false, maxCaptionBytes); err == nil {
		if segs, err := parseJSON3(data); err == nil && len(segs) > 0 {
			return renderSegments(segs, opts.Timestamps), nil
		}
	}
	u, err := url.Parse(base)
	if err == nil {
		q := u.Query()
		q.Del("fmt")
		u.RawQuery = q.Encode()
		base = u.String()
	}
	data, err := fetchBytes(ctx, opts, base, false, maxCaptionBytes)
	if err != nil {
		return "", fmt.Errorf("fetch timedtext: %w", err)
	}
	segs, err := parseTimedText(data)
	if err != nil {
		return "", err
	}
	text := renderSegments(segs, opts.Timestamps)
	if text == "" {
		return "", errors.New("empty caption track")
	}
	return text, nil
}

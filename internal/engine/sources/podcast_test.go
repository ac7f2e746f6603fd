package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_transcript/internal/engine/media"
	"github.com/anatolykoptev/go_transcript/internal/engine/transcribe"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:podcast="https://podcastindex.org/namespace/1.0">
<channel>
<title>The Show</title>
<item>
  <title>Episode 1</title>
  <guid>ep-1</guid>
  <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
  <enclosure url="%[1]s/ep1.mp3" type="audio/mpeg" length="10"/>
</item>
<item>
  <title>Episode 2</title>
  <guid>ep-2</guid>
  <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
  <enclosure url="%[1]s/ep2.mp3" type="audio/mpeg" length="10"/>
  <podcast:transcript url="%[1]s/ep2.html" type="text/html"/>
  <podcast:transcript url="%[1]s/ep2.vtt" type="text/vtt"/>
</item>
<item>
  <title>Broken</title>
</item>
</channel>
</rss>`

const sampleVTT = "WEBVTT\n\nNOTE produced by hand\n\n00:00:01.000 --> 00:00:03.000\nHello there.\n\n00:01:02.500 --> 00:01:04.000 align:start\n<v Host>General Kenobi.</v>\n"

func podcastServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, feedTemplate, srv.URL)
		case "/ep2.vtt":
			w.Header().Set("Content-Type", "text/vtt")
			fmt.Fprint(w, sampleVTT)
		case "/ep1.mp3":
			http.ServeContent(w, r, "ep1.mp3", time.Time{}, strings.NewReader("fake mp3 bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPodcastCanHandle(t *testing.T) {
	p := &Podcast{}
	tests := []struct {
		pc   ProviderContext
		want bool
	}{
		{ProviderContext{URL: "https://feeds.example.com/show.rss"}, true},
		{ProviderContext{URL: "https://example.com/podcast/feed/"}, true},
		{ProviderContext{URL: "https://podcasts.apple.com/us/podcast/the-show/id123456789?i=1000"}, true},
		{ProviderContext{URL: "https://example.com/episode", HTML: `<html><head><link rel="alternate" type="application/rss+xml" href="/feed.xml"></head></html>`}, true},
		{ProviderContext{URL: "https://example.com/episode", HTML: `<html><head><link rel="stylesheet" href="/a.css"></head></html>`}, false},
		{ProviderContext{URL: "https://example.com/episode"}, false},
		{ProviderContext{URL: "/tmp/show.xml"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.pc.URL, func(t *testing.T) {
			assert.Equal(t, tt.want, p.CanHandle(tt.pc))
		})
	}
}

func TestRSSAlternate(t *testing.T) {
	page := `<html><head><link rel="alternate" type="application/atom+xml" href="atom.xml"></head><body><link rel="alternate" type="application/rss+xml" href="/late.xml"></body></html>`
	assert.Equal(t, "https://example.com/shows/atom.xml", rssAlternate(page, "https://example.com/shows/ep"))
	assert.Equal(t, "", rssAlternate(`<body><link rel="alternate" type="application/rss+xml" href="/late.xml"></body>`, "https://example.com"))
}

func TestPodcastPublishedTranscript(t *testing.T) {
	srv := podcastServer(t)
	opts := offlineOptions()
	opts.HTTP = srv.Client()
	opts.Timestamps = true

	res, err := (&Podcast{}).FetchTranscript(context.Background(), ProviderContext{URL: srv.URL + "/feed.xml"}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, SourcePodcastTranscript, res.Transcript.Source)
	assert.Equal(t, "[00:01] Hello there.\n[01:02] General Kenobi.", res.Transcript.Text)
	assert.Equal(t, []Source{SourcePodcastTranscript}, res.Attempted)
	assert.Equal(t, "Episode 2", res.Metadata["episodeTitle"])
	assert.Equal(t, "The Show", res.Metadata["podcastTitle"])
}

func TestPodcastEnclosureTranscription(t *testing.T) {
	srv := podcastServer(t)
	backend := &stubBackend{text: "episode one audio"}
	opts := offlineOptions()
	opts.HTTP = srv.Client()
	opts.Media = &media.Engine{
		HTTP:     srv.Client(),
		Caps:     media.StaticCapabilities{},
		Backends: transcribe.Chain{backend},
	}

	res, err := (&Podcast{}).FetchTranscript(context.Background(), ProviderContext{URL: srv.URL + "/feed.xml?guid=ep-1"}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, SourceWhisper, res.Transcript.Source)
	assert.Equal(t, "episode one audio", res.Transcript.Text)
	assert.Equal(t, []Source{SourceWhisper}, res.Attempted)
	assert.Equal(t, srv.URL+"/ep1.mp3", res.Metadata["enclosureUrl"])
	assert.Equal(t, 1, backend.calls)
}

func TestPodcastWithoutBackend(t *testing.T) {
	srv := podcastServer(t)
	opts := offlineOptions()
	opts.HTTP = srv.Client()

	res, err := (&Podcast{}).FetchTranscript(context.Background(), ProviderContext{URL: srv.URL + "/feed.xml#ep-1"}, opts)
	require.NoError(t, err)
	assert.Nil(t, res.Transcript)
	assert.Empty(t, res.Attempted)
	assert.Equal(t, ReasonMissingTranscriptionCredentials, res.Reason)
}

func TestPickEpisode(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	audio := func(u string) []*gofeed.Enclosure {
		return []*gofeed.Enclosure{{URL: u, Type: "audio/mpeg"}}
	}
	items := []*gofeed.Item{
		{GUID: "a", Link: "https://show/a/", Title: "A", Enclosures: audio("https://cdn/a.mp3"), PublishedParsed: &older},
		nil,
		{GUID: "broken", Title: "no media"},
		{GUID: "b", Link: "https://show/b", Title: "B", Enclosures: audio("https://cdn/b.mp3"), PublishedParsed: &newer},
	}
	tests := []struct {
		name string
		hint episodeHint
		want string
	}{
		{"latest by default", episodeHint{}, "b"},
		{"guid", episodeHint{GUID: "a"}, "a"},
		{"link ignores trailing slash", episodeHint{Link: "https://show/a"}, "a"},
		{"title case-insensitive", episodeHint{Title: " a "}, "a"},
		{"enclosure", episodeHint{Enclosure: "https://cdn/a.mp3"}, "a"},
		{"unknown guid falls back to latest", episodeHint{GUID: "zzz"}, "b"},
		{"malformed items never match", episodeHint{GUID: "broken"}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickEpisode(items, tt.hint)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.GUID)
		})
	}
	assert.Nil(t, pickEpisode([]*gofeed.Item{{Title: "empty"}}, episodeHint{}))
}

func TestRenderTranscriptBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		mime string
		want string
	}{
		{"vtt", sampleVTT, "text/vtt", "Hello there. General Kenobi."},
		{"srt", "1\n00:00:01,000 --> 00:00:02,000\nFirst line\n\n2\n00:00:03,000 --> 00:00:04,000\nSecond line\n", "application/x-subrip", "First line Second line"},
		{"json", `{"version":"1.0","segments":[{"startTime":0.5,"body":"Hi"},{"startTime":2,"body":"there"}]}`, "application/json", "Hi there"},
		{"html", `<p>Hello <strong>world</strong></p>`, "text/html", "Hello **world**"},
		{"plain", "  just text  ", "text/plain", "just text"},
		{"unknown type sniffed as cues", sampleVTT, "", "Hello there. General Kenobi."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderTranscriptBody([]byte(tt.body), tt.mime, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := renderTranscriptBody([]byte("   "), "text/plain", false)
	assert.Error(t, err)
	_, err = renderTranscriptBody([]byte("{bad"), "application/json", false)
	assert.Error(t, err)
}

func TestItunesLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "123", r.URL.Query().Get("id"))
		assert.Equal(t, "podcastEpisode", r.URL.Query().Get("entity"))
		fmt.Fprint(w, `{"resultCount":2,"results":[
			{"wrapperType":"track","kind":"podcast","trackId":123,"feedUrl":"https://feeds.example.com/show.rss"},
			{"wrapperType":"podcastEpisode","kind":"podcast-episode","trackId":1000,"trackName":"Ep","episodeGuid":"guid-1000","episodeUrl":"https://cdn/ep.mp3"}]}`)
	}))
	defer srv.Close()
	old := itunesLookupURL
	itunesLookupURL = srv.URL + "/lookup"
	defer func() { itunesLookupURL = old }()

	opts := offlineOptions()
	opts.HTTP = srv.Client()
	feed, hint, err := itunesLookup(context.Background(), opts, "123", "1000")
	require.NoError(t, err)
	assert.Equal(t, "https://feeds.example.com/show.rss", feed)
	assert.Equal(t, episodeHint{GUID: "guid-1000", Title: "Ep", Enclosure: "https://cdn/ep.mp3"}, hint)
}

package pagefetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func offline() engine.Doer {
	return doerFunc(func(r *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("offline: %s", r.URL)
	})
}

type recorder struct{ kinds []string }

func (r *recorder) sink() engine.ProgressSink {
	return func(ev engine.Event) { r.kinds = append(r.kinds, ev.Kind()) }
}

func TestFetchDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "text/html")
		fmt.Fprint(w, `<html><head><title> Episode 4 </title></head><body>hello</body></html>`)
	}))
	defer srv.Close()

	rec := &recorder{}
	f := &Fetcher{HTTP: srv.Client(), Progress: rec.sink()}
	page, err := f.Fetch(context.Background(), srv.URL+"/ep4")
	require.NoError(t, err)
	assert.Equal(t, ViaDirect, page.Via)
	assert.Equal(t, "Episode 4", page.Title)
	assert.Contains(t, page.HTML, "hello")
	require.NotEmpty(t, rec.kinds)
	assert.Equal(t, engine.KindFetchHTMLStart, rec.kinds[0])
	assert.Contains(t, rec.kinds, engine.KindFetchHTMLProgress)
	assert.Equal(t, engine.KindFetchHTMLDone, rec.kinds[len(rec.kinds)-1])
}

func TestFetchDirectCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("a", 100))
	}))
	defer srv.Close()

	f := &Fetcher{HTTP: srv.Client(), MaxBytes: 10}
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.HTML, 10)
}

func TestFetchFallsBackToFirecrawl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scrape" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))
		var req firecrawlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"html", "markdown"}, req.Formats)
		fmt.Fprintf(w, `{"success":true,"data":{"html":"<html><title>Rendered</title><body>%s</body></html>"}}`, req.URL)
	}))
	defer srv.Close()

	rec := &recorder{}
	f := &Fetcher{HTTP: srv.Client(), FirecrawlKey: "fc-key", FirecrawlURL: srv.URL + "/v1/scrape", Progress: rec.sink()}
	page, err := f.Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, ViaFirecrawl, page.Via)
	assert.Equal(t, "Rendered", page.Title)
	assert.Contains(t, rec.kinds, engine.KindFirecrawlDone)
}

func TestFetchXStatusViaBird(t *testing.T) {
	var query string
	rec := &recorder{}
	f := &Fetcher{
		HTTP: offline(),
		Search: func(_ context.Context, q string, _ int) ([]Tweet, error) {
			query = q
			return []Tweet{
				{ID: "110", AuthorID: "u1", Text: "third & last"},
				{ID: "100", AuthorID: "u1", Text: "root post"},
				{ID: "105", AuthorID: "u2", Text: "someone else"},
				{ID: "99", AuthorID: "u1", Text: "second"},
			}, nil
		},
		NitterURL: "https://nitter.invalid",
		Progress:  rec.sink(),
	}
	page, err := f.Fetch(context.Background(), "https://x.com/someone/status/100")
	require.NoError(t, err)
	assert.Equal(t, "conversation_id:100", query)
	assert.Equal(t, ViaBird, page.Via)
	assert.Contains(t, page.HTML, `<div class="tweet-content">root post</div><div class="tweet-content">second</div><div class="tweet-content">third &amp; last</div>`)
	assert.NotContains(t, page.HTML, "someone else")
	assert.Equal(t, []string{engine.KindBirdStart, engine.KindBirdDone}, rec.kinds)
}

func TestFetchXStatusFallsBackToNitter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/someone/status/100" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body><div class="tweet-content">mirrored text</div></body></html>`)
	}))
	defer srv.Close()

	rec := &recorder{}
	f := &Fetcher{
		HTTP: srv.Client(),
		Search: func(context.Context, string, int) ([]Tweet, error) {
			return nil, errors.New("rate limited")
		},
		NitterURL: srv.URL + "/",
		Progress:  rec.sink(),
	}
	page, err := f.Fetch(context.Background(), "https://twitter.com/someone/status/100?s=20")
	require.NoError(t, err)
	assert.Equal(t, ViaNitter, page.Via)
	assert.Contains(t, page.HTML, "mirrored text")
	assert.Equal(t, []string{engine.KindBirdStart, engine.KindBirdDone, engine.KindNitterStart, engine.KindNitterDone}, rec.kinds)
}

func TestFetchAllStepsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="timeline">nothing here</div></body></html>`)
	}))
	defer srv.Close()

	f := &Fetcher{
		HTTP: doerFunc(func(r *http.Request) (*http.Response, error) {
			if strings.HasPrefix(r.URL.String(), srv.URL) {
				return srv.Client().Do(r)
			}
			return nil, errors.New("offline")
		}),
		Search: func(context.Context, string, int) ([]Tweet, error) {
			return []Tweet{{ID: "1", AuthorID: "a", Text: "other status"}}, nil
		},
		NitterURL: srv.URL,
	}
	_, err := f.Fetch(context.Background(), "https://x.com/someone/status/100")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoTweet)
	assert.ErrorIs(t, err, errNitterNoContent)
	assert.Contains(t, err.Error(), "direct:")
}

func TestAuthorThread(t *testing.T) {
	tweets := []Tweet{
		{ID: "1000", AuthorID: "a", Text: "late"},
		{ID: "5", AuthorID: "a", Text: "root"},
		{ID: "20", AuthorID: "a", Text: "  "},
		{ID: "30", AuthorID: "a", Text: "early"},
	}
	got := authorThread(tweets, "5")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"5", "30", "1000"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Nil(t, authorThread(tweets, "404"))
}

func TestMarkdownPage(t *testing.T) {
	page := markdownPage("T <1>", "first para\n\nsecond <b>\n\n", true)
	assert.Equal(t, `<html><head><title>T &lt;1&gt;</title></head><body><article><div class="tweet-content">first para</div><div class="tweet-content">second &lt;b&gt;</div></article></body></html>`, page)
	assert.Contains(t, markdownPage("", "x", false), `class="content"`)
}

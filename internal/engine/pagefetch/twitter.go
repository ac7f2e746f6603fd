package pagefetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"

	twitter "github.com/anatolykoptev/go-twitter"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

const birdSearchLimit = 40

// Tweet is the part of a post the bird step renders.
type Tweet struct {
	ID       string
	AuthorID string
	Text     string
}

// SearchFunc runs an X search query.
type SearchFunc func(ctx context.Context, query string, limit int) ([]Tweet, error)

// TwitterSearch adapts a go-twitter client to SearchFunc.
func TwitterSearch(tw *twitter.Client) SearchFunc {
	return func(ctx context.Context, query string, limit int) ([]Tweet, error) {
		tweets, err := tw.SearchTimeline(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("twitter search: %w", err)
		}
		out := make([]Tweet, 0, len(tweets))
		for _, t := range tweets {
			out = append(out, Tweet{ID: t.ID, AuthorID: t.AuthorID, Text: t.Text})
		}
		return out, nil
	}
}

var errNoTweet = errors.New("status not found in conversation")

// bird renders the root post and the author's own replies in the conversation.
func (f *Fetcher) bird(ctx context.Context, rawURL, id string) (page string, err error) {
	f.Progress.Emit(engine.BirdStart{URL: rawURL})
	defer func() { f.Progress.Emit(engine.BirdDone{URL: rawURL, OK: err == nil}) }()

	tweets, err := f.Search(ctx, "conversation_id:"+id, birdSearchLimit)
	if err != nil {
		return "", err
	}
	thread := authorThread(tweets, id)
	if len(thread) == 0 {
		return "", errNoTweet
	}
	slog.Debug("bird thread", slog.String("id", id), slog.Int("posts", len(thread)))
	return tweetPage(thread), nil
}

// authorThread returns the root post followed by same-author posts in id order.
func authorThread(tweets []Tweet, rootID string) []Tweet {
	var root *Tweet
	for i := range tweets {
		if tweets[i].ID == rootID {
			root = &tweets[i]
			break
		}
	}
	if root == nil {
		return nil
	}
	thread := []Tweet{*root}
	for _, t := range tweets {
		if t.ID != rootID && t.AuthorID == root.AuthorID && strings.TrimSpace(t.Text) != "" {
			thread = append(thread, t)
		}
	}
	sort.SliceStable(thread[1:], func(i, j int) bool {
		return idLess(thread[1+i].ID, thread[1+j].ID)
	})
	return thread
}

// idLess orders snowflake ids numerically without parsing.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// tweetPage wraps posts in the markup the generic provider reads.
func tweetPage(thread []Tweet) string {
	var b strings.Builder
	desc := html.EscapeString(strings.TrimSpace(thread[0].Text))
	b.WriteString(`<html><head><meta property="og:description" content="` + desc + `"></head><body>`)
	for _, t := range thread {
		b.WriteString(`<div class="tweet-content">`)
		b.WriteString(html.EscapeString(strings.TrimSpace(t.Text)))
		b.WriteString("</div>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

package cookies

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// DefaultSources is the browser order tried when no sources are configured.
var DefaultSources = []string{"chrome", "safari", "firefox"}

// Reader reads cookies from one browser store.
type Reader interface {
	Read(ctx context.Context, opts ReadOptions) Result
}

// Resolver turns explicit values, environment and browser stores into Twitter
// credentials.
type Resolver struct {
	Chrome  Reader
	Firefox Reader
	Safari  Reader
	Getenv  func(string) string
	Sources []string
}

// NewResolver wires real browser readers and os.Getenv.
func NewResolver(sources []string) *Resolver {
	return &Resolver{
		Chrome:  NewChromeReader(),
		Firefox: NewFirefoxReader(),
		Safari:  &SafariReader{},
		Getenv:  os.Getenv,
		Sources: sources,
	}
}

// TwitterOptions carries explicitly supplied credentials and source overrides.
type TwitterOptions struct {
	AuthToken string
	Ct0       string
	Sources   []string
}

type sourceToken struct {
	browser string
	profile string
}

var chromeFamily = map[string]bool{"chrome": true, "chromium": true, "brave": true, "edge": true}

// parseSourceToken splits "chrome:Profile 1" into browser and profile.
func parseSourceToken(tok string) (sourceToken, bool) {
	tok = strings.TrimSpace(tok)
	browser, profile, _ := strings.Cut(tok, ":")
	browser = strings.ToLower(strings.TrimSpace(browser))
	st := sourceToken{browser: browser, profile: strings.TrimSpace(profile)}
	return st, chromeFamily[browser] || browser == "firefox" || browser == "safari"
}

func (t sourceToken) String() string {
	if t.profile == "" {
		return t.browser
	}
	return t.browser + ":" + t.profile
}

func (r *Resolver) getenv(keys ...string) string {
	get := r.Getenv
	if get == nil {
		get = os.Getenv
	}
	for _, k := range keys {
		if v := strings.TrimSpace(get(k)); v != "" {
			return v
		}
	}
	return ""
}

func (r *Resolver) sources(override []string) []string {
	switch {
	case len(override) > 0:
		return override
	case len(r.Sources) > 0:
		return r.Sources
	default:
		return DefaultSources
	}
}

func (r *Resolver) reader(browser string) Reader {
	switch {
	case chromeFamily[browser]:
		return r.Chrome
	case browser == "firefox":
		return r.Firefox
	case browser == "safari":
		return r.Safari
	}
	return nil
}

// ResolveTwitter returns the first complete credential pair from explicit
// values, then environment, then browser stores in order. Each source is taken
// as a whole: auth_token and ct0 from different sources are never paired.
// Without a complete pair the first partial source is returned with
// "missing ..." warnings.
func (r *Resolver) ResolveTwitter(ctx context.Context, opts TwitterOptions) TwitterCookies {
	explicit := TwitterCookies{AuthToken: opts.AuthToken, Ct0: opts.Ct0, Source: "explicit"}
	if explicit.Complete() {
		explicit.CookieHeader = twitterHeader(explicit)
		return explicit
	}
	fromEnv := TwitterCookies{
		AuthToken: r.getenv("AUTH_TOKEN", "TWITTER_AUTH_TOKEN"),
		Ct0:       r.getenv("CT0", "TWITTER_CT0"),
		Source:    "env",
	}
	if fromEnv.Complete() {
		fromEnv.CookieHeader = twitterHeader(fromEnv)
		return fromEnv
	}

	var partial TwitterCookies
	adopt := func(c TwitterCookies) {
		if partial.AuthToken == "" && partial.Ct0 == "" && (c.AuthToken != "" || c.Ct0 != "") {
			partial = TwitterCookies{AuthToken: c.AuthToken, Ct0: c.Ct0, Source: c.Source}
		}
	}
	adopt(explicit)
	adopt(fromEnv)

	var warnings []string
	for _, raw := range r.sources(opts.Sources) {
		tok, ok := parseSourceToken(raw)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown cookie source %q", raw))
			continue
		}
		rd := r.reader(tok.browser)
		if rd == nil {
			continue
		}
		res := rd.Read(ctx, ReadOptions{Browser: tok.browser, Profile: tok.profile, Domains: TwitterDomains})
		warnings = append(warnings, res.Warnings...)
		found := TwitterFromCookies(res.Cookies, tok.String())
		if found.Complete() {
			found.Warnings = warnings
			slog.Debug("cookies: twitter credentials resolved", slog.String("source", found.Source))
			return found
		}
		adopt(found)
	}

	if partial.AuthToken == "" {
		warnings = append(warnings, "missing auth_token")
	}
	if partial.Ct0 == "" {
		warnings = append(warnings, "missing ct0")
	}
	partial.Warnings = warnings
	partial.CookieHeader = twitterHeader(partial)
	return partial
}

// ResolveBrowserSpec returns the first configured browser that yields both
// Twitter cookies, formatted for yt-dlp --cookies-from-browser.
func (r *Resolver) ResolveBrowserSpec(ctx context.Context, sources []string) BrowserCookieSpec {
	var spec BrowserCookieSpec
	for _, raw := range r.sources(sources) {
		tok, ok := parseSourceToken(raw)
		if !ok {
			spec.Warnings = append(spec.Warnings, fmt.Sprintf("unknown cookie source %q", raw))
			continue
		}
		rd := r.reader(tok.browser)
		if rd == nil {
			continue
		}
		res := rd.Read(ctx, ReadOptions{Browser: tok.browser, Profile: tok.profile, Domains: TwitterDomains})
		spec.Warnings = append(spec.Warnings, res.Warnings...)
		if TwitterFromCookies(res.Cookies, "").Complete() {
			spec.CookiesFromBrowser = tok.String()
			spec.Source = tok.String()
			return spec
		}
	}
	return spec
}

func twitterHeader(t TwitterCookies) string {
	var cs []Cookie
	if t.AuthToken != "" {
		cs = append(cs, Cookie{Name: authTokenName, Value: t.AuthToken})
	}
	if t.Ct0 != "" {
		cs = append(cs, Cookie{Name: ct0Name, Value: t.Ct0})
	}
	return CookieHeader(cs)
}

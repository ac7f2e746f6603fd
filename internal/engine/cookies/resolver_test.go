package cookies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeReader struct {
	res   Result
	calls []ReadOptions
}

func (f *fakeReader) Read(_ context.Context, opts ReadOptions) Result {
	f.calls = append(f.calls, opts)
	return f.res
}

func noEnv(string) string { return "" }

func TestResolveTwitter_ExplicitWins(t *testing.T) {
	chrome := &fakeReader{}
	r := &Resolver{Chrome: chrome, Firefox: &fakeReader{}, Safari: &fakeReader{}, Getenv: func(k string) string {
		return "env-" + k
	}}
	got := r.ResolveTwitter(context.Background(), TwitterOptions{AuthToken: "a", Ct0: "c"})
	assert.Equal(t, "a", got.AuthToken)
	assert.Equal(t, "c", got.Ct0)
	assert.Equal(t, "explicit", got.Source)
	assert.Equal(t, "auth_token=a; ct0=c", got.CookieHeader)
	assert.Empty(t, chrome.calls)
}

func TestResolveTwitter_EnvPairBeatsHalfExplicit(t *testing.T) {
	env := map[string]string{"TWITTER_CT0": "envct0", "AUTH_TOKEN": "envat"}
	r := &Resolver{Chrome: &fakeReader{}, Firefox: &fakeReader{}, Safari: &fakeReader{}, Getenv: func(k string) string { return env[k] }}
	got := r.ResolveTwitter(context.Background(), TwitterOptions{AuthToken: "explicit-at"})
	assert.Equal(t, "envat", got.AuthToken)
	assert.Equal(t, "envct0", got.Ct0)
	assert.Equal(t, "env", got.Source)
}

func TestResolveTwitter_NeverPairsAcrossSources(t *testing.T) {
	safariAT := Result{Cookies: []Cookie{{Name: "auth_token", Value: "SAFARI_AT"}}}
	chromeCT0 := Result{Cookies: []Cookie{{Name: "ct0", Value: "CHROME_CT0"}}}
	full := Result{Cookies: []Cookie{{Name: "auth_token", Value: "FF_AT"}, {Name: "ct0", Value: "FF_CT0"}}}

	tests := []struct {
		name     string
		opts     TwitterOptions
		env      map[string]string
		firefox  Result
		complete bool
		at, ct0  string
		source   string
		missing  string
	}{
		{
			name:    "half pairs in two browsers",
			opts:    TwitterOptions{Sources: []string{"safari", "chrome"}},
			at:      "SAFARI_AT",
			source:  "safari",
			missing: "missing ct0",
		},
		{
			name:    "explicit auth_token with browser ct0",
			opts:    TwitterOptions{AuthToken: "EXPLICIT_AT", Sources: []string{"chrome"}},
			at:      "EXPLICIT_AT",
			source:  "explicit",
			missing: "missing ct0",
		},
		{
			name:    "env ct0 with browser auth_token",
			opts:    TwitterOptions{Sources: []string{"safari"}},
			env:     map[string]string{"CT0": "ENV_CT0"},
			ct0:     "ENV_CT0",
			source:  "env",
			missing: "missing auth_token",
		},
		{
			name:     "later complete browser wins",
			opts:     TwitterOptions{AuthToken: "EXPLICIT_AT", Sources: []string{"safari", "chrome", "firefox"}},
			firefox:  full,
			complete: true,
			at:       "FF_AT",
			ct0:      "FF_CT0",
			source:   "firefox",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Resolver{
				Chrome:  &fakeReader{res: chromeCT0},
				Safari:  &fakeReader{res: safariAT},
				Firefox: &fakeReader{res: tt.firefox},
				Getenv:  func(k string) string { return tt.env[k] },
			}
			got := r.ResolveTwitter(context.Background(), tt.opts)
			assert.Equal(t, tt.complete, got.Complete())
			assert.Equal(t, tt.at, got.AuthToken)
			assert.Equal(t, tt.ct0, got.Ct0)
			assert.Equal(t, tt.source, got.Source)
			if tt.missing != "" {
				assert.Contains(t, got.Warnings, tt.missing)
			}
		})
	}
}

func TestResolveTwitter_BrowserOrder(t *testing.T) {
	safari := &fakeReader{res: Result{Warnings: []string{"safari: no matching cookies"}}}
	chrome := &fakeReader{res: Result{Cookies: []Cookie{
		{Name: "auth_token", Value: "AT"}, {Name: "ct0", Value: "CT"}, {Name: "lang", Value: "en"},
	}}}
	firefox := &fakeReader{}
	r := &Resolver{Chrome: chrome, Firefox: firefox, Safari: safari, Getenv: noEnv}

	got := r.ResolveTwitter(context.Background(), TwitterOptions{Sources: []string{"safari", "chrome:Profile 1", "firefox"}})
	assert.True(t, got.Complete())
	assert.Equal(t, "chrome:Profile 1", got.Source)
	assert.Equal(t, "auth_token=AT; ct0=CT; lang=en", got.CookieHeader)
	assert.Contains(t, got.Warnings, "safari: no matching cookies")
	assert.Len(t, safari.calls, 1)
	assert.Equal(t, "Profile 1", chrome.calls[0].Profile)
	assert.Empty(t, firefox.calls, "stops at first complete source")
}

func TestResolveTwitter_UnknownTokenWarnsOnce(t *testing.T) {
	firefox := &fakeReader{res: Result{Cookies: []Cookie{{Name: "auth_token", Value: "A"}, {Name: "ct0", Value: "C"}}}}
	r := &Resolver{Chrome: &fakeReader{}, Firefox: firefox, Safari: &fakeReader{}, Getenv: noEnv}
	got := r.ResolveTwitter(context.Background(), TwitterOptions{Sources: []string{"opera", "firefox"}})
	assert.True(t, got.Complete())
	n := 0
	for _, w := range got.Warnings {
		if w == `unknown cookie source "opera"` {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestResolveTwitter_Partial(t *testing.T) {
	chrome := &fakeReader{res: Result{Cookies: []Cookie{{Name: "ct0", Value: "C"}}}}
	r := &Resolver{Chrome: chrome, Firefox: &fakeReader{}, Safari: &fakeReader{}, Getenv: noEnv}
	got := r.ResolveTwitter(context.Background(), TwitterOptions{})
	assert.False(t, got.Complete())
	assert.Equal(t, "C", got.Ct0)
	assert.Contains(t, got.Warnings, "missing auth_token")
	assert.NotContains(t, got.Warnings, "missing ct0")
}

func TestResolveTwitter_DefaultOrder(t *testing.T) {
	var order []string
	mk := func(name string) Reader {
		return readerFunc(func(_ context.Context, opts ReadOptions) Result {
			order = append(order, name)
			return Result{}
		})
	}
	r := &Resolver{Chrome: mk("chrome"), Firefox: mk("firefox"), Safari: mk("safari"), Getenv: noEnv}
	r.ResolveTwitter(context.Background(), TwitterOptions{})
	assert.Equal(t, []string{"chrome", "safari", "firefox"}, order)
}

func TestResolveBrowserSpec(t *testing.T) {
	firefox := &fakeReader{res: Result{Cookies: []Cookie{{Name: "auth_token", Value: "A"}, {Name: "ct0", Value: "C"}}}}
	r := &Resolver{Chrome: &fakeReader{}, Firefox: firefox, Safari: &fakeReader{}, Getenv: noEnv}
	spec := r.ResolveBrowserSpec(context.Background(), []string{"chrome", "firefox:work"})
	assert.Equal(t, "firefox:work", spec.CookiesFromBrowser)
	assert.Equal(t, "firefox:work", spec.Source)

	empty := (&Resolver{Chrome: &fakeReader{}, Firefox: &fakeReader{}, Safari: &fakeReader{}}).ResolveBrowserSpec(context.Background(), nil)
	assert.Empty(t, empty.CookiesFromBrowser)
}

func TestParseSourceToken(t *testing.T) {
	tests := []struct {
		in      string
		browser string
		profile string
		ok      bool
	}{
		{"chrome", "chrome", "", true},
		{"Chrome:Profile 1", "chrome", "Profile 1", true},
		{"brave", "brave", "", true},
		{"firefox:work", "firefox", "work", true},
		{"opera", "opera", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseSourceToken(tt.in)
			if ok != tt.ok || got.browser != tt.browser || got.profile != tt.profile {
				t.Errorf("parseSourceToken(%q) = %+v,%v, want %s/%s,%v", tt.in, got, ok, tt.browser, tt.profile, tt.ok)
			}
		})
	}
}

type readerFunc func(ctx context.Context, opts ReadOptions) Result

func (f readerFunc) Read(ctx context.Context, opts ReadOptions) Result { return f(ctx, opts) }

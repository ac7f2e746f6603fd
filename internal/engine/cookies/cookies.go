// Package cookies reads authentication cookies from local browser cookie stores
// (Chrome-family SQLite with keychain-derived encryption, Firefox SQLite, Safari
// binarycookies) and resolves them into credential bundles.
//
// Readers never fail for "not found" situations: they return whatever they
// collected plus human-readable warnings.
package cookies

import (
	"io"
	"os"
	"sort"
	"strings"
)

// Cookie is one stored cookie, already decrypted.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Result is what every reader returns.
type Result struct {
	Cookies  []Cookie
	Warnings []string
}

// ReadOptions selects the store and the hosts of interest.
type ReadOptions struct {
	Browser string   // chrome, brave, edge, chromium, firefox, safari
	Profile string   // browser profile name; empty = default
	Domains []string // e.g. x.com, twitter.com
}

// TwitterDomains are the hosts whose cookies carry X/Twitter credentials.
var TwitterDomains = []string{"x.com", "twitter.com"}

const (
	authTokenName = "auth_token"
	ct0Name       = "ct0"
)

// TwitterCookies is a credential bundle for X/Twitter requests.
type TwitterCookies struct {
	AuthToken    string
	Ct0          string
	CookieHeader string
	Source       string
	Warnings     []string
}

// Complete reports whether both required credential fields are present.
func (t TwitterCookies) Complete() bool {
	return t.AuthToken != "" && t.Ct0 != ""
}

// BrowserCookieSpec tells an external tool where to read cookies itself
// (yt-dlp --cookies-from-browser). It carries no secret values.
type BrowserCookieSpec struct {
	CookiesFromBrowser string
	Source             string
	Warnings           []string
}

// TwitterFromCookies picks auth_token and ct0 by exact name and builds a cookie
// header from every given cookie, sorted by name.
func TwitterFromCookies(cs []Cookie, source string) TwitterCookies {
	out := TwitterCookies{Source: source}
	for _, c := range cs {
		switch c.Name {
		case authTokenName:
			if out.AuthToken == "" {
				out.AuthToken = c.Value
			}
		case ct0Name:
			if out.Ct0 == "" {
				out.Ct0 = c.Value
			}
		}
	}
	out.CookieHeader = CookieHeader(cs)
	return out
}

// CookieHeader renders cookies as a Cookie request header value in
// alphabetical name order. Duplicate names keep their first value.
func CookieHeader(cs []Cookie) string {
	seen := make(map[string]bool, len(cs))
	pairs := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		if c.Name == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		pairs = append(pairs, c)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	parts := make([]string, len(pairs))
	for i, c := range pairs {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; ")
}

// matchesDomain accepts exact and subdomain matches, ignoring leading dots.
func matchesDomain(host string, domains []string) bool {
	h := strings.TrimPrefix(strings.ToLower(host), ".")
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(d), ".")
		if d == "" {
			continue
		}
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}

// hostVariants expands domains into the literal host values stored by browsers.
func hostVariants(domains []string) []string {
	var out []string
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(d), ".")
		if d == "" {
			continue
		}
		out = append(out, d, "."+d, "www."+d, ".www."+d)
	}
	return out
}

// copyFile copies src to dst; used to snapshot live databases.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

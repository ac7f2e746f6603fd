package engine

import "regexp"

var xStatusRe = regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/([^/?#]+)/status(?:es)?/(\d+)`)

// XStatus returns the handle and post id of an x.com or twitter.com status URL.
func XStatus(rawURL string) (user, id string, ok bool) {
	m := xStatusRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

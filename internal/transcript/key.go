package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine/media"
)

const keyPrefix = "tr:"

// KeyOptions is the subset of fetch options that changes transcript text.
type KeyOptions struct {
	Timestamps  bool   `json:"timestamps"`
	YouTubeMode string `json:"youtubeMode"`
}

type keyMaterial struct {
	URL   string     `json:"url"`
	Opts  KeyOptions `json:"opts"`
	Mtime *int64     `json:"mtime"`
}

// Key derives the cache key. fileMtime must be nil for network URLs.
func Key(rawURL string, opts KeyOptions, fileMtime *int64) string {
	data, _ := json.Marshal(keyMaterial{URL: NormalizeURL(rawURL), Opts: opts, Mtime: fileMtime})
	sum := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(sum[:])[:32]
}

// NormalizeURL lowercases scheme and host, drops the fragment and utm_*
// parameters, and sorts the query. Local paths are returned unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	return u.String()
}

// FileMtime returns the modification time in nanoseconds for a local file and
// nil for anything else.
func FileMtime(src string) *int64 {
	p, ok := media.LocalPath(src)
	if !ok {
		return nil
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil
	}
	n := fi.ModTime().UnixNano()
	return &n
}

package media

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// Info describes a media input before any body byte is transferred.
type Info struct {
	Size      int64 // -1 when unknown
	MediaType string
	Filename  string
	LocalPath string // set for local files
}

// Local reports whether the input is a file on disk.
func (i Info) Local() bool { return i.LocalPath != "" }

// LocalPath returns the filesystem path for "file://" URLs and plain paths.
func LocalPath(src string) (string, bool) {
	if strings.HasPrefix(src, "file://") {
		u, err := url.Parse(src)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	if strings.Contains(src, "://") {
		return "", false
	}
	if _, err := os.Stat(src); err == nil {
		return src, true
	}
	return "", false
}

// Probe inspects src with os.Stat for local files, otherwise HEAD, falling back
// to a one-byte ranged GET when HEAD is refused or omits the length.
func Probe(ctx context.Context, doer engine.Doer, src string) (Info, error) {
	if p, ok := LocalPath(src); ok {
		st, err := os.Stat(p)
		if err != nil {
			return Info{}, fmt.Errorf("stat media: %w", err)
		}
		if st.IsDir() {
			return Info{}, fmt.Errorf("media path %s is a directory", p)
		}
		return Info{
			Size:      st.Size(),
			MediaType: mime.TypeByExtension(strings.ToLower(filepath.Ext(p))),
			Filename:  filepath.Base(p),
			LocalPath: p,
		}, nil
	}

	doer = engine.DoerOrDefault(doer)
	info := Info{Size: -1, Filename: filenameFromURL(src)}

	if resp, err := send(ctx, doer, http.MethodHead, src, ""); err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			fillInfo(&info, resp)
			if info.Size >= 0 {
				return info, nil
			}
		}
	}

	resp, err := send(ctx, doer, http.MethodGet, src, "bytes=0-0")
	if err != nil {
		return info, fmt.Errorf("probe media: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return info, fmt.Errorf("probe media: %w", &engine.StatusError{StatusCode: resp.StatusCode, URL: src})
	}
	fillInfo(&info, resp)
	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok {
			info.Size = total
		}
	}
	return info, nil
}

func send(ctx context.Context, doer engine.Doer, method, src, rng string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, src, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", engine.UserAgentChrome)
	if rng != "" {
		req.Header.Set("Range", rng)
	}
	return doer.Do(req)
}

func fillInfo(info *Info, resp *http.Response) {
	if resp.ContentLength >= 0 && resp.StatusCode != http.StatusPartialContent {
		info.Size = resp.ContentLength
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			info.MediaType = mt
		}
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			info.Filename = filepath.Base(params["filename"])
		}
	}
}

// totalFromContentRange reads the total from "bytes 0-0/12345".
func totalFromContentRange(v string) (int64, bool) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || v[i+1:] == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func filenameFromURL(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

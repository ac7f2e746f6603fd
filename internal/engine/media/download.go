package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// progressEvery is the byte interval between download progress events.
const progressEvery = 1 << 20

// progressWriter counts bytes and reports them at most once per progressEvery.
type progressWriter struct {
	w        io.Writer
	n        int64
	reported int64
	report   func(n int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.n += int64(n)
	if p.report != nil && p.n-p.reported >= progressEvery {
		p.reported = p.n
		p.report(p.n)
	}
	return n, err
}

// download streams at most limit bytes of src into w. With ranged set it asks
// the server for only the first limit bytes; the cutoff applies regardless.
// truncated reports that more data was available than limit.
func download(ctx context.Context, doer engine.Doer, src string, w io.Writer, limit int64, ranged bool, report func(int64)) (n int64, truncated bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("User-Agent", engine.UserAgentChrome)
	if ranged {
		req.Header.Set("Range", "bytes=0-"+strconv.FormatInt(limit-1, 10))
	}
	resp, err := engine.DoerOrDefault(doer).Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, false, fmt.Errorf("download media: %w", &engine.StatusError{StatusCode: resp.StatusCode, URL: src})
	}

	pw := &progressWriter{w: w, report: report}
	n, err = io.Copy(pw, io.LimitReader(resp.Body, limit+1))
	engine.AddMediaDownloadBytes(n)
	if err != nil {
		return n, false, fmt.Errorf("read media: %w", err)
	}
	if n > limit {
		if t, ok := w.(interface{ Truncate(int64) error }); ok {
			_ = t.Truncate(limit)
		}
		return limit, true, nil
	}
	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok && total > n {
			truncated = true
		}
	}
	return n, truncated, nil
}

// cappedBuffer is an in-memory sink that supports Truncate.
type cappedBuffer struct{ b []byte }

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.b = append(c.b, p...)
	return len(p), nil
}

func (c *cappedBuffer) Truncate(n int64) error {
	if n < int64(len(c.b)) {
		c.b = c.b[:n]
	}
	return nil
}

// readLocalPrefix reads at most limit bytes from a local file.
func readLocalPrefix(path string, limit int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	return engine.ReadCapped(f, limit)
}

package pagefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// progressReader reports cumulative bytes read to the sink.
type progressReader struct {
	r     io.Reader
	url   string
	total int64
	n     int64
	sink  engine.ProgressSink
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.sink.Emit(engine.FetchHTMLProgress{URL: p.url, DownloadedBytes: p.n, TotalBytes: p.total})
	}
	return n, err
}

// direct GETs the page through the Chrome-TLS client when configured, plain HTTP otherwise.
func (f *Fetcher) direct(ctx context.Context, rawURL string) (html string, err error) {
	f.Progress.Emit(engine.FetchHTMLStart{URL: rawURL})
	var size int64
	defer func() {
		f.Progress.Emit(engine.FetchHTMLDone{URL: rawURL, DownloadedBytes: size, OK: err == nil && html != ""})
	}()

	ctx, cancel := context.WithTimeout(ctx, engine.Cfg.FetchTimeout)
	defer cancel()

	if f.Browser != nil {
		data, _, status, err := f.Browser.Do(http.MethodGet, rawURL, engine.ChromeHeaders(), nil)
		if err != nil {
			return "", err
		}
		if status < 200 || status > 299 {
			return "", &engine.StatusError{StatusCode: status, URL: rawURL}
		}
		if int64(len(data)) > f.limit() {
			data = data[:f.limit()]
		}
		size = int64(len(data))
		f.Progress.Emit(engine.FetchHTMLProgress{URL: rawURL, DownloadedBytes: size, TotalBytes: size})
		return string(data), nil
	}

	resp, err := engine.FetchWithRetry(ctx, f.doer(), rawURL, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	total, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	pr := &progressReader{r: resp.Body, url: rawURL, total: total, sink: f.Progress}
	resp.Body = io.NopCloser(pr)
	body, _, err := engine.ReadResponseBody(resp, f.limit())
	size = pr.n
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return string(body), nil
}

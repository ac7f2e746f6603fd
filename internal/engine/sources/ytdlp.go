package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
)

// ytdlpTranscribe downloads the best audio stream of pageURL with yt-dlp into a
// temp dir and transcribes it. cookiesFromBrowser is passed through when set.
func ytdlpTranscribe(ctx context.Context, opts FetchOptions, eng *media.Engine, pageURL, service, cookiesFromBrowser string) (*media.Result, error) {
	tmpDir, err := os.MkdirTemp("", "go-transcript-ytdlp-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	args := []string{
		"--no-playlist", "--no-progress", "--quiet", "--no-warnings",
		"-f", "bestaudio[ext=m4a]/bestaudio/best",
		"--max-filesize", fmt.Sprint(media.MaxMediaBytes),
		"-o", filepath.Join(tmpDir, "audio.%(ext)s"),
	}
	if cookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", cookiesFromBrowser)
	}
	args = append(args, pageURL)

	opts.Progress.Emit(engine.MediaDownloadStart{URL: pageURL, Service: service})
	_, err = opts.run()(ctx, engine.Cfg.TranscribeTimeout, opts.YtDlpPath, args...)
	if err != nil {
		opts.Progress.Emit(engine.MediaDownloadDone{URL: pageURL, Service: service})
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}
	files, _ := filepath.Glob(filepath.Join(tmpDir, "audio.*"))
	sort.Strings(files)
	if len(files) == 0 {
		opts.Progress.Emit(engine.MediaDownloadDone{URL: pageURL, Service: service})
		return nil, errors.New("yt-dlp: no audio file produced")
	}
	var size int64
	if st, err := os.Stat(files[0]); err == nil {
		size = st.Size()
	}
	engine.AddMediaDownloadBytes(size)
	opts.Progress.Emit(engine.MediaDownloadDone{URL: pageURL, Service: service, DownloadedBytes: size, TotalBytes: size})

	return eng.Transcribe(ctx, media.Request{
		URL:      files[0],
		Label:    pageURL,
		Service:  service,
		Language: firstLanguage(opts),
		Progress: opts.Progress,
	})
}

func firstLanguage(opts FetchOptions) string {
	langs := opts.languages()
	if len(langs) == 0 {
		return ""
	}
	return langs[0]
}

package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
)

// YouTube strategies, in order: youtubei (page-embedded transcript panel),
// captionTracks (player response caption URLs), Apify actor, yt-dlp audio plus
// transcription. The mode decides which of them run.
type YouTube struct{}

const youtubeService = "youtube"

var videoIDRE = regexp.MustCompile(`(?i)(?:youtube(?:-nocookie)?\.com/(?:watch\?(?:.*&)?v=|shorts/|embed/|live/|v/)|youtu\.be/)([a-zA-Z0-9_-]{11})(?:[?&#/]|$)`)

// VideoID pulls the 11-char video id from watch, youtu.be, shorts, embed and
// live URLs.
func VideoID(rawURL string) string {
	m := videoIDRE.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func (y *YouTube) Name() string { return youtubeService }

func (y *YouTube) CanHandle(pc ProviderContext) bool {
	return VideoID(pc.URL) != ""
}

func (y *YouTube) FetchTranscript(ctx context.Context, pc ProviderContext, opts FetchOptions) (*ProviderResult, error) {
	engine.IncrYouTubeAttempt()
	mode := opts.YouTubeMode
	if mode == "" {
		mode = ModeAuto
	}
	id := pc.ResourceKey
	if id == "" {
		id = VideoID(pc.URL)
	}
	res := newResult()
	res.Metadata["videoId"] = id
	watchURL := "https://www.youtube.com/watch?v=" + id
	eng := opts.mediaEngine()

	// Explicit modes fail before any network work when prerequisites are missing.
	switch mode {
	case ModeApify:
		if opts.ApifyToken == "" {
			res.Reason = ReasonMissingApifyToken
			return res, &ModeError{Mode: mode, Reason: ReasonMissingApifyToken}
		}
	case ModeYtDlp:
		if opts.YtDlpPath == "" {
			res.Reason = ReasonMissingYtDlp
			return res, &ModeError{Mode: mode, Reason: ReasonMissingYtDlp}
		}
		if !eng.Available() {
			res.Reason = ReasonMissingTranscriptionCredentials
			return res, &ModeError{Mode: mode, Reason: ReasonMissingTranscriptionCredentials}
		}
	}

	if mode == ModeAuto || mode == ModeWeb || mode == ModeNoAuto {
		if text, src, ok := y.webSteps(ctx, pc, opts, res, watchURL, mode == ModeNoAuto); ok {
			return res.found(text, src), nil
		}
	}

	if mode == ModeAuto || mode == ModeApify {
		if opts.ApifyToken != "" {
			res.attempt(SourceApify)
			opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: youtubeService, Hint: "apify actor"})
			text, err := fetchApify(ctx, opts, watchURL)
			opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: youtubeService, OK: err == nil, Source: string(SourceApify)})
			if err == nil {
				return res.found(text, SourceApify), nil
			}
			if mode == ModeApify {
				return res, err
			}
			slog.Warn("youtube: apify failed", slog.String("id", id), slog.Any("error", err))
			res.note("apify failed: %v", err)
		}
	}

	if mode == ModeAuto || mode == ModeYtDlp {
		if opts.YtDlpPath != "" && eng.Available() {
			res.attempt(SourceYtDlp)
			opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: youtubeService, Hint: "yt-dlp audio + transcription"})
			mr, err := ytdlpTranscribe(ctx, opts, eng, watchURL, youtubeService, "")
			opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: youtubeService, OK: err == nil, Source: string(SourceYtDlp)})
			if err == nil && mr.Text != "" {
				res.Notes = append(res.Notes, mr.Notes...)
				res.Metadata["transcriptionBackend"] = mr.Backend
				return res.found(mr.Text, SourceYtDlp), nil
			}
			if mode == ModeYtDlp || errors.Is(err, media.ErrMediaTooLarge) {
				if err == nil {
					err = fmt.Errorf("yt-dlp: empty transcript")
				}
				return res, err
			}
			slog.Warn("youtube: yt-dlp failed", slog.String("id", id), slog.Any("error", err))
			res.note("yt-dlp failed: %v", err)
		}
	}

	if mode == ModeAuto {
		switch {
		case opts.YtDlpPath != "" && !eng.Available():
			res.Reason = ReasonMissingTranscriptionCredentials
		case opts.YtDlpPath == "":
			res.Reason = ReasonMissingYtDlp
		case opts.ApifyToken == "":
			res.Reason = ReasonMissingApifyToken
		}
	}
	return res, nil
}

// webSteps runs youtubei then captionTracks against the watch page.
func (y *YouTube) webSteps(ctx context.Context, pc ProviderContext, opts FetchOptions, res *ProviderResult, watchURL string, skipASR bool) (string, Source, bool) {
	html := pc.HTML
	if html == "" {
		page, err := fetchPage(ctx, opts, watchURL)
		if err != nil {
			res.note("watch page unavailable: %v", err)
			return "", "", false
		}
		html = page
	}

	res.attempt(SourceYoutubei)
	opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: youtubeService, Hint: "youtubei transcript panel"})
	text, err := fetchYoutubei(ctx, opts.doer(), html, opts.Timestamps)
	opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: youtubeService, OK: err == nil, Source: string(SourceYoutubei)})
	if err == nil {
		return text, SourceYoutubei, true
	}
	slog.Debug("youtube: youtubei failed", slog.String("url", pc.URL), slog.Any("error", err))

	res.attempt(SourceCaptionTracks)
	opts.Progress.Emit(engine.TranscriptStart{URL: pc.URL, Service: youtubeService, Hint: "caption tracks"})
	text, err = y.captionTracks(ctx, opts, res, html, skipASR)
	opts.Progress.Emit(engine.TranscriptDone{URL: pc.URL, Service: youtubeService, OK: err == nil, Source: string(SourceCaptionTracks)})
	if err == nil {
		return text, SourceCaptionTracks, true
	}
	slog.Debug("youtube: caption tracks failed", slog.String("url", pc.URL), slog.Any("error", err))
	return "", "", false
}

func (y *YouTube) captionTracks(ctx context.Context, opts FetchOptions, res *ProviderResult, html string, skipASR bool) (string, error) {
	pr, err := extractPlayerResponse(html)
	if err != nil {
		return "", err
	}
	if pr.VideoDetails != nil && pr.VideoDetails.Title != "" {
		res.Metadata["title"] = pr.VideoDetails.Title
	}
	if pr.Captions == nil {
		if pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Reason != "" {
			return "", fmt.Errorf("captions unavailable: %s", pr.PlayabilityStatus.Reason)
		}
		return "", fmt.Errorf("no captions in player response")
	}
	tracks := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	track, ok := pickBestTrack(tracks, opts.languages(), skipASR)
	if !ok {
		return "", fmt.Errorf("no usable caption track among %d", len(tracks))
	}
	res.Metadata["captionLanguage"] = track.LanguageCode
	kind := "manual"
	if track.Kind == "asr" {
		kind = "asr"
	}
	res.Metadata["captionKind"] = kind
	return fetchCaptionTrack(ctx, opts, track)
}

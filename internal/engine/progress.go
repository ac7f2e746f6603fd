package engine

import "fmt"

// Event is one phase transition of a long-running resolution.
// The set of implementations is closed: every kind below, nothing else.
type Event interface {
	Kind() string
	progressEvent()
}

// ProgressSink receives events. It must not block.
type ProgressSink func(Event)

// Emit delivers ev to the sink; a nil sink drops it.
func (s ProgressSink) Emit(ev Event) {
	if s != nil {
		s(ev)
	}
}

// Event kinds.
const (
	KindFetchHTMLStart        = "fetch-html-start"
	KindFetchHTMLProgress     = "fetch-html-progress"
	KindFetchHTMLDone         = "fetch-html-done"
	KindTranscriptStart       = "transcript-start"
	KindTranscriptDone        = "transcript-done"
	KindMediaDownloadStart    = "transcript-media-download-start"
	KindMediaDownloadProgress = "transcript-media-download-progress"
	KindMediaDownloadDone     = "transcript-media-download-done"
	KindWhisperStart          = "transcript-whisper-start"
	KindWhisperProgress       = "transcript-whisper-progress"
	KindWhisperDone           = "transcript-whisper-done"
	KindBirdStart             = "bird-start"
	KindBirdDone              = "bird-done"
	KindNitterStart           = "nitter-start"
	KindNitterDone            = "nitter-done"
	KindFirecrawlStart        = "firecrawl-start"
	KindFirecrawlDone         = "firecrawl-done"
)

type FetchHTMLStart struct{ URL string }

type FetchHTMLProgress struct {
	URL             string
	DownloadedBytes int64
	TotalBytes      int64 // 0 = unknown
}

type FetchHTMLDone struct {
	URL             string
	DownloadedBytes int64
	OK              bool
}

// TranscriptStart announces a strategy attempt; Hint explains why it runs.
type TranscriptStart struct {
	URL     string
	Service string
	Hint    string
}

type TranscriptDone struct {
	URL     string
	Service string
	OK      bool
	Source  string
}

type MediaDownloadStart struct {
	URL        string
	Service    string
	TotalBytes int64
}

type MediaDownloadProgress struct {
	URL             string
	Service         string
	DownloadedBytes int64
	TotalBytes      int64
}

type MediaDownloadDone struct {
	URL             string
	Service         string
	DownloadedBytes int64
	TotalBytes      int64
}

type WhisperStart struct {
	URL                  string
	Service              string
	ProviderHint         string
	TotalDurationSeconds float64
	Parts                int
}

type WhisperProgress struct {
	URL                      string
	Service                  string
	ProcessedDurationSeconds float64
	TotalDurationSeconds     float64
	PartIndex                int // 1-based
	Parts                    int
}

type WhisperDone struct {
	URL          string
	Service      string
	ProviderHint string
	OK           bool
}

type BirdStart struct{ URL string }

type BirdDone struct {
	URL string
	OK  bool
}

type NitterStart struct{ URL string }

type NitterDone struct {
	URL string
	OK  bool
}

type FirecrawlStart struct{ URL string }

type FirecrawlDone struct {
	URL string
	OK  bool
}

func (FetchHTMLStart) Kind() string        { return KindFetchHTMLStart }
func (FetchHTMLProgress) Kind() string     { return KindFetchHTMLProgress }
func (FetchHTMLDone) Kind() string         { return KindFetchHTMLDone }
func (TranscriptStart) Kind() string       { return KindTranscriptStart }
func (TranscriptDone) Kind() string        { return KindTranscriptDone }
func (MediaDownloadStart) Kind() string    { return KindMediaDownloadStart }
func (MediaDownloadProgress) Kind() string { return KindMediaDownloadProgress }
func (MediaDownloadDone) Kind() string     { return KindMediaDownloadDone }
func (WhisperStart) Kind() string          { return KindWhisperStart }
func (WhisperProgress) Kind() string       { return KindWhisperProgress }
func (WhisperDone) Kind() string           { return KindWhisperDone }
func (BirdStart) Kind() string             { return KindBirdStart }
func (BirdDone) Kind() string              { return KindBirdDone }
func (NitterStart) Kind() string           { return KindNitterStart }
func (NitterDone) Kind() string            { return KindNitterDone }
func (FirecrawlStart) Kind() string        { return KindFirecrawlStart }
func (FirecrawlDone) Kind() string         { return KindFirecrawlDone }

func (FetchHTMLStart) progressEvent()        {}
func (FetchHTMLProgress) progressEvent()     {}
func (FetchHTMLDone) progressEvent()         {}
func (TranscriptStart) progressEvent()       {}
func (TranscriptDone) progressEvent()        {}
func (MediaDownloadStart) progressEvent()    {}
func (MediaDownloadProgress) progressEvent() {}
func (MediaDownloadDone) progressEvent()     {}
func (WhisperStart) progressEvent()          {}
func (WhisperProgress) progressEvent()       {}
func (WhisperDone) progressEvent()           {}
func (BirdStart) progressEvent()             {}
func (BirdDone) progressEvent()              {}
func (NitterStart) progressEvent()           {}
func (NitterDone) progressEvent()            {}
func (FirecrawlStart) progressEvent()        {}
func (FirecrawlDone) progressEvent()         {}

// DescribeEvent renders a one-line human-readable summary of ev.
func DescribeEvent(ev Event) string {
	switch e := ev.(type) {
	case FetchHTMLStart:
		return "fetching " + e.URL
	case FetchHTMLProgress:
		return fmt.Sprintf("fetching %s (%s)", e.URL, byteProgress(e.DownloadedBytes, e.TotalBytes))
	case FetchHTMLDone:
		return fmt.Sprintf("fetched %s (%d bytes, ok=%t)", e.URL, e.DownloadedBytes, e.OK)
	case TranscriptStart:
		if e.Hint != "" {
			return fmt.Sprintf("%s: %s", e.Service, e.Hint)
		}
		return e.Service + ": trying"
	case TranscriptDone:
		if e.OK {
			return fmt.Sprintf("%s: transcript via %s", e.Service, e.Source)
		}
		return e.Service + ": no transcript"
	case MediaDownloadStart:
		return fmt.Sprintf("%s: downloading media (%s)", e.Service, byteProgress(0, e.TotalBytes))
	case MediaDownloadProgress:
		return fmt.Sprintf("%s: downloading media (%s)", e.Service, byteProgress(e.DownloadedBytes, e.TotalBytes))
	case MediaDownloadDone:
		return fmt.Sprintf("%s: downloaded %d bytes", e.Service, e.DownloadedBytes)
	case WhisperStart:
		if e.Parts > 1 {
			return fmt.Sprintf("%s: transcribing %d parts via %s", e.Service, e.Parts, e.ProviderHint)
		}
		return fmt.Sprintf("%s: transcribing via %s", e.Service, e.ProviderHint)
	case WhisperProgress:
		return fmt.Sprintf("%s: transcribed part %d/%d (%.0fs of %.0fs)",
			e.Service, e.PartIndex, e.Parts, e.ProcessedDurationSeconds, e.TotalDurationSeconds)
	case WhisperDone:
		return fmt.Sprintf("%s: transcription via %s ok=%t", e.Service, e.ProviderHint, e.OK)
	case BirdStart:
		return "bird: reading " + e.URL
	case BirdDone:
		return fmt.Sprintf("bird: ok=%t", e.OK)
	case NitterStart:
		return "nitter: reading " + e.URL
	case NitterDone:
		return fmt.Sprintf("nitter: ok=%t", e.OK)
	case FirecrawlStart:
		return "firecrawl: scraping " + e.URL
	case FirecrawlDone:
		return fmt.Sprintf("firecrawl: ok=%t", e.OK)
	}
	return ev.Kind()
}

func byteProgress(done, total int64) string {
	if total > 0 {
		return fmt.Sprintf("%d/%d bytes", done, total)
	}
	return fmt.Sprintf("%d bytes", done)
}

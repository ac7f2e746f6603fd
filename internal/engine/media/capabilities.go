// Package media downloads remote audio/video within hard size limits and
// transcribes it, splitting long inputs into fixed-length segments with ffmpeg.
package media

import (
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// Capabilities reports which local tools can be used.
type Capabilities interface {
	FFmpegAvailable() bool
	LocalWhisperReady() bool
}

// StaticCapabilities is a fixed answer, for tests and explicit overrides.
type StaticCapabilities struct {
	FFmpeg  bool
	Whisper bool
}

func (s StaticCapabilities) FFmpegAvailable() bool   { return s.FFmpeg }
func (s StaticCapabilities) LocalWhisperReady() bool { return s.Whisper }

// SystemCapabilities probes PATH and the configured binaries once.
type SystemCapabilities struct {
	LookPath func(string) (string, error)

	once      sync.Once
	ffmpeg    string
	ffprobe   string
	whisperOK bool
}

// DefaultCapabilities is shared across providers.
var DefaultCapabilities = &SystemCapabilities{}

func (s *SystemCapabilities) probe() {
	s.once.Do(func() {
		look := s.LookPath
		if look == nil {
			look = exec.LookPath
		}
		c := engine.Cfg
		s.ffmpeg = resolveBinary(look, c.FFmpegPath, "ffmpeg")
		s.ffprobe = resolveBinary(look, c.FFprobePath, "ffprobe")
		if c.WhisperCppBin != "" && c.WhisperCppModel != "" {
			_, modelErr := os.Stat(c.WhisperCppModel)
			s.whisperOK = resolveBinary(look, c.WhisperCppBin, "") != "" && modelErr == nil
		}
		slog.Info("media capabilities",
			slog.String("ffmpeg", s.ffmpeg),
			slog.String("ffprobe", s.ffprobe),
			slog.Bool("whisper_cpp", s.whisperOK))
	})
}

func (s *SystemCapabilities) FFmpegAvailable() bool {
	s.probe()
	return s.ffmpeg != "" && s.ffprobe != ""
}

func (s *SystemCapabilities) LocalWhisperReady() bool {
	s.probe()
	return s.whisperOK
}

// FFmpegPath returns the resolved ffmpeg binary, empty when unavailable.
func (s *SystemCapabilities) FFmpegPath() string {
	s.probe()
	return s.ffmpeg
}

// FFprobePath returns the resolved ffprobe binary, empty when unavailable.
func (s *SystemCapabilities) FFprobePath() string {
	s.probe()
	return s.ffprobe
}

func resolveBinary(look func(string) (string, error), configured, fallback string) string {
	name := configured
	if name == "" {
		name = fallback
	}
	if name == "" {
		return ""
	}
	p, err := look(name)
	if err != nil {
		return ""
	}
	return p
}

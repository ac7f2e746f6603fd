package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// WhisperCpp runs a local whisper.cpp CLI. Input is converted to 16 kHz mono
// WAV with ffmpeg first when FFmpeg is set.
type WhisperCpp struct {
	Bin    string
	Model  string
	FFmpeg string
	Run    engine.CommandRunner
}

func (w *WhisperCpp) Name() string { return "whisper.cpp" }

var whisperTimestampRe = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\.\d{3} --> \d{2}:\d{2}:\d{2}\.\d{3}\]\s*`)

func (w *WhisperCpp) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	run := w.Run
	if run == nil {
		run = engine.RunCommand
	}
	timeout := engine.Cfg.TranscribeTimeout

	tmpDir, err := os.MkdirTemp("", "go-transcript-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	input := audio.Path
	if input == "" {
		input = filepath.Join(tmpDir, audio.filename())
		if err := os.WriteFile(input, audio.Data, 0o600); err != nil {
			return nil, fmt.Errorf("write audio: %w", err)
		}
	}
	if w.FFmpeg != "" {
		wav := filepath.Join(tmpDir, "input.wav")
		if _, err := run(ctx, timeout, w.FFmpeg, "-nostdin", "-y", "-i", input,
			"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", wav); err != nil {
			return nil, fmt.Errorf("convert to wav: %w", err)
		}
		input = wav
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{"-m", w.Model, "-f", input, "-nt", "-np", "-l", lang}
	if opts.Prompt != "" {
		args = append(args, "--prompt", opts.Prompt)
	}
	out, err := run(ctx, timeout, w.Bin, args...)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp: %w", err)
	}
	return &Response{Text: parseWhisperCppOutput(string(out)), Language: opts.Language}, nil
}

// parseWhisperCppOutput joins stdout lines, dropping any timestamp prefixes.
func parseWhisperCppOutput(out string) string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(whisperTimestampRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

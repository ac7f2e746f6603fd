package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "whisper-1"
	deepInfraBaseURL       = "https://api.deepinfra.com/v1/inference/"
	defaultDeepInfraModel  = "openai/whisper-large-v3-turbo"
	elevenLabsSTTEndpoint  = "https://api.elevenlabs.io/v1/speech-to-text"
	defaultElevenLabsModel = "scribe_v1"
)

// OpenAI calls an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAI struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    engine.Doer
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/"), Model: model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	body, ctype, err := multipartBody(audio, "file", [][2]string{
		{"model", o.Model},
		{"response_format", "json"},
		{"language", opts.Language},
		{"prompt", opts.Prompt},
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	data, err := engine.DoBounded(engine.DoerOrDefault(o.HTTP), req, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &Response{Text: out.Text, Language: out.Language}, nil
}

// DeepInfra calls DeepInfra's native inference API for Whisper models.
type DeepInfra struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    engine.Doer
}

func NewDeepInfra(apiKey, model string) *DeepInfra {
	if model == "" {
		model = defaultDeepInfraModel
	}
	return &DeepInfra{APIKey: apiKey, Model: model, BaseURL: deepInfraBaseURL}
}

func (d *DeepInfra) Name() string { return "deepinfra" }

// Transcribe uploads the audio under the "audio" field, DeepInfra's convention.
func (d *DeepInfra) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	body, ctype, err := multipartBody(audio, "audio", [][2]string{
		{"language", opts.Language},
		{"initial_prompt", opts.Prompt},
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+d.Model, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	data, err := engine.DoBounded(engine.DoerOrDefault(d.HTTP), req, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("deepinfra request: %w", err)
	}
	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			Text string `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	text := out.Text
	if strings.TrimSpace(text) == "" && len(out.Segments) > 0 {
		parts := make([]string, 0, len(out.Segments))
		for _, s := range out.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
	}
	return &Response{Text: text, Language: out.Language}, nil
}

// ElevenLabs calls the ElevenLabs Speech-to-Text API.
type ElevenLabs struct {
	APIKey   string
	Model    string
	Endpoint string
	HTTP     engine.Doer
}

func NewElevenLabs(apiKey, model string) *ElevenLabs {
	if model == "" {
		model = defaultElevenLabsModel
	}
	return &ElevenLabs{APIKey: apiKey, Model: model, Endpoint: elevenLabsSTTEndpoint}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error) {
	body, ctype, err := multipartBody(audio, "file", [][2]string{
		{"model_id", e.Model},
		{"language_code", opts.Language},
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("xi-api-key", e.APIKey)

	data, err := engine.DoBounded(engine.DoerOrDefault(e.HTTP), req, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	var out struct {
		LanguageCode string `json:"language_code"`
		Text         string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &Response{Text: out.Text, Language: out.LanguageCode}, nil
}

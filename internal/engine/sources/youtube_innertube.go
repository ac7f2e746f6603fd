package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// YouTube Innertube: page-embedded config extraction, wire types and the
// low-level POST used by the youtubei step.

const (
	ytBaseURL          = "https://www.youtube.com"
	ytGetTranscriptURL = ytBaseURL + "/youtubei/v1/get_transcript"
	ytWebVersion       = "2.20250222.10.00"
	ytPlayerMarker     = "ytInitialPlayerResponse"
	ytInnertubeCtxKey  = `"INNERTUBE_CONTEXT":`
)

var (
	ytAPIKeyRE        = regexp.MustCompile(`"INNERTUBE_API_KEY":\s*"([^"]+)"`)
	getTranscriptRE   = regexp.MustCompile(`"getTranscriptEndpoint":\{"params":"([^"]+)"`)
	ytVisitorDataRE   = regexp.MustCompile(`"VISITOR_DATA":\s*"([^"]+)"`)
	ytClientVersionRE = regexp.MustCompile(`"INNERTUBE_CLIENT_VERSION":\s*"([^"]+)"`)
)

// ytPageConfig is what the youtubei step needs from a watch page.
type ytPageConfig struct {
	APIKey        string
	Context       json.RawMessage
	Params        string
	VisitorData   string
	ClientVersion string
}

// extractPageConfig pulls INNERTUBE_API_KEY, INNERTUBE_CONTEXT and the
// getTranscriptEndpoint params out of watch-page HTML.
func extractPageConfig(html string) (ytPageConfig, error) {
	var cfg ytPageConfig
	m := ytAPIKeyRE.FindStringSubmatch(html)
	if m == nil {
		return cfg, errors.New("INNERTUBE_API_KEY not found")
	}
	cfg.APIKey = m[1]

	idx := strings.Index(html, ytInnertubeCtxKey)
	if idx < 0 {
		return cfg, errors.New("INNERTUBE_CONTEXT not found")
	}
	ctxJSON := extractJSON([]byte(strings.TrimLeft(html[idx+len(ytInnertubeCtxKey):], " ")))
	if ctxJSON == nil || !json.Valid(ctxJSON) {
		return cfg, errors.New("INNERTUBE_CONTEXT is not valid JSON")
	}
	cfg.Context = ctxJSON

	p := getTranscriptRE.FindStringSubmatch(html)
	if p == nil {
		return cfg, errors.New("getTranscriptEndpoint not found")
	}
	// The page stores params URL-encoded; /get_transcript expects raw base64.
	if decoded, err := url.QueryUnescape(p[1]); err == nil {
		cfg.Params = decoded
	} else {
		cfg.Params = p[1]
	}
	if v := ytVisitorDataRE.FindStringSubmatch(html); v != nil {
		cfg.VisitorData = v[1]
	}
	cfg.ClientVersion = ytWebVersion
	if v := ytClientVersionRE.FindStringSubmatch(html); v != nil {
		cfg.ClientVersion = v[1]
	}
	return cfg, nil
}

// extractPlayerResponse finds ytInitialPlayerResponse in page HTML.
func extractPlayerResponse(html string) (*innertubePlayerResp, error) {
	rest := html
	for {
		idx := strings.Index(rest, ytPlayerMarker)
		if idx < 0 {
			return nil, errors.New("ytInitialPlayerResponse not found")
		}
		rest = rest[idx+len(ytPlayerMarker):]
		// Assignments look like `ytInitialPlayerResponse = {` or `["ytInitialPlayerResponse"] = {`.
		brace := strings.IndexByte(rest, '{')
		if brace < 0 || brace > 8 {
			continue
		}
		data := extractJSON([]byte(rest[brace:]))
		if data == nil {
			continue
		}
		var pr innertubePlayerResp
		if err := json.Unmarshal(data, &pr); err != nil {
			return nil, fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
		}
		return &pr, nil
	}
}

// extractJSON returns the JSON object starting at b[0] == '{' by tracking brace
// depth outside string literals.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr, escaped := false, false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}

type innertubePlayerResp struct {
	VideoDetails *struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

// --- /get_transcript response ---

type ytGetTranscriptResp struct {
	Actions []struct {
		UpdateEngagementPanelAction *struct {
			Content struct {
				TranscriptRenderer struct {
					Content struct {
						TranscriptSearchPanelRenderer struct {
							Body struct {
								TranscriptSegmentListRenderer struct {
									InitialSegments []struct {
										TranscriptSegmentRenderer *struct {
											StartMs string `json:"startMs"`
											Snippet struct {
												Runs []struct {
													Text string `json:"text"`
												} `json:"runs"`
											} `json:"snippet"`
										} `json:"transcriptSegmentRenderer"`
									} `json:"initialSegments"`
								} `json:"transcriptSegmentListRenderer"`
							} `json:"body"`
						} `json:"transcriptSearchPanelRenderer"`
					} `json:"content"`
				} `json:"transcriptRenderer"`
			} `json:"content"`
		} `json:"updateEngagementPanelAction"`
	} `json:"actions"`
}

// postInnerTubeWEB POSTs to a youtubei endpoint with WEB client headers.
func postInnerTubeWEB(ctx context.Context, doer engine.Doer, endpoint string, payload any, cfg ytPageConfig) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	target := endpoint + "?prettyPrint=false"
	if cfg.APIKey != "" {
		target += "&key=" + url.QueryEscape(cfg.APIKey)
	}

	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "*/*")
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		req.Header.Set("X-Youtube-Client-Name", "1")
		req.Header.Set("X-Youtube-Client-Version", cfg.ClientVersion)
		if cfg.VisitorData != "" {
			req.Header.Set("X-Goog-Visitor-Id", cfg.VisitorData)
		}
		req.Header.Set("Origin", ytBaseURL)
		req.Header.Set("Referer", ytBaseURL+"/")
		return doer.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("innertube WEB [%s]: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _, _ := engine.ReadCapped(resp.Body, 256)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)
	}
	body, _, err := engine.ReadCapped(resp.Body, 3*1024*1024)
	return body, err
}

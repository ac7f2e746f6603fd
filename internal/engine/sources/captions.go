package sources

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parseCues reads WebVTT and SubRip bodies. Both are blank-line separated
// blocks with a "start --> end" timing line; SRT uses a comma before the
// milliseconds. Header, NOTE, STYLE and REGION blocks are skipped, and a cue
// repeating the previous cue's text (rolling captions) is dropped.
func parseCues(body string) []segment {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.TrimPrefix(body, "\ufeff")
	var out []segment
	var last string
	for _, block := range strings.Split(body, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		timing := -1
		for i, l := range lines {
			if strings.Contains(l, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			continue
		}
		start, ok := parseCueTime(strings.TrimSpace(strings.SplitN(lines[timing], "-->", 2)[0]))
		if !ok {
			continue
		}
		text := strings.TrimSpace(strings.Join(lines[timing+1:], " "))
		if text == "" || text == last {
			continue
		}
		last = text
		out = append(out, segment{StartMs: start, Text: text})
	}
	return out
}

// parseCueTime accepts hh:mm:ss.mmm, mm:ss.mmm and the SRT comma form.
func parseCueTime(s string) (int64, bool) {
	s = strings.Replace(s, ",", ".", 1)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return int64(total * 1000), true
}

// podcastJSONTranscript is the Podcasting 2.0 JSON transcript shape.
type podcastJSONTranscript struct {
	Segments []struct {
		StartTime float64 `json:"startTime"`
		Body      string  `json:"body"`
	} `json:"segments"`
}

func parseJSONTranscript(data []byte) ([]segment, error) {
	var t podcastJSONTranscript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	out := make([]segment, 0, len(t.Segments))
	for _, s := range t.Segments {
		out = append(out, segment{StartMs: int64(s.StartTime * 1000), Text: s.Body})
	}
	return out, nil
}

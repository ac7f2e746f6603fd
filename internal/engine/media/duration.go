package media

import (
	"strconv"
	"strings"
)

// ParseDurationSeconds parses "h:mm:ss", "mm:ss" or a bare number of seconds.
// Fields are plain decimal digits; only the last may carry a ".fraction".
func ParseDurationSeconds(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var total float64
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !decimalField(p, i == len(parts)-1) {
			return 0, false
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, false
		}
		if i > 0 && v >= 60 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

// decimalField accepts "123" and, when fraction is set, "123.45".
func decimalField(p string, fraction bool) bool {
	whole, frac, hasDot := strings.Cut(p, ".")
	if whole == "" || !allDigits(whole) {
		return false
	}
	if !hasDot {
		return true
	}
	return fraction && frac != "" && allDigits(frac)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package cookies

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	binaryCookiesMagic = "cook"
	safariPageTag      = 0x00000100
	safariRecordHeader = 56
)

// ErrNotBinaryCookies is returned for input without the "cook" magic.
var ErrNotBinaryCookies = errors.New("not a binarycookies file")

// SafariReader parses Safari's Cookies.binarycookies.
type SafariReader struct {
	HomeDir string
}

func (r *SafariReader) candidates() []string {
	home := r.HomeDir
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return []string{
		filepath.Join(home, "Library", "Containers", "com.apple.Safari", "Data", "Library", "Cookies", "Cookies.binarycookies"),
		filepath.Join(home, "Library", "Cookies", "Cookies.binarycookies"),
	}
}

func (r *SafariReader) Read(_ context.Context, opts ReadOptions) Result {
	var res Result
	path := opts.Profile
	if path == "" || !fileExists(path) {
		path = ""
		for _, c := range r.candidates() {
			if fileExists(c) {
				path = c
				break
			}
		}
	}
	if path == "" {
		res.Warnings = append(res.Warnings, "safari: Cookies.binarycookies not found")
		return res
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Warnings = append(res.Warnings, "safari: "+err.Error())
		return res
	}
	all, err := ParseBinaryCookies(data)
	if err != nil {
		res.Warnings = append(res.Warnings, "safari: "+err.Error())
		return res
	}
	for _, c := range all {
		if matchesDomain(c.Domain, opts.Domains) {
			res.Cookies = append(res.Cookies, c)
		}
	}
	if len(res.Cookies) == 0 {
		res.Warnings = append(res.Warnings, "safari: no matching cookies")
	}
	return res
}

// ParseBinaryCookies decodes a binarycookies buffer. The file header and page
// size table are big-endian; pages and records are little-endian. Malformed
// pages or records are skipped.
func ParseBinaryCookies(data []byte) ([]Cookie, error) {
	if len(data) < 8 || string(data[:4]) != binaryCookiesMagic {
		return nil, ErrNotBinaryCookies
	}
	numPages := int(binary.BigEndian.Uint32(data[4:8]))
	tableEnd := 8 + 4*numPages
	if numPages < 0 || tableEnd > len(data) {
		return nil, fmt.Errorf("page table truncated (%d pages)", numPages)
	}

	var out []Cookie
	offset := tableEnd
	for i := 0; i < numPages; i++ {
		size := int(binary.BigEndian.Uint32(data[8+4*i:]))
		if size <= 0 || offset+size > len(data) {
			break
		}
		out = append(out, parseSafariPage(data[offset:offset+size])...)
		offset += size
	}
	return out, nil
}

func parseSafariPage(page []byte) []Cookie {
	if len(page) < 8 || binary.LittleEndian.Uint32(page[0:4]) != safariPageTag {
		return nil
	}
	count := int(binary.LittleEndian.Uint32(page[4:8]))
	if count < 0 || 8+4*count > len(page) {
		return nil
	}
	var out []Cookie
	for i := 0; i < count; i++ {
		off := int(binary.LittleEndian.Uint32(page[8+4*i:]))
		if c, ok := parseSafariRecord(page, off); ok {
			out = append(out, c)
		}
	}
	return out
}

func parseSafariRecord(page []byte, off int) (Cookie, bool) {
	if off < 0 || off+safariRecordHeader > len(page) {
		return Cookie{}, false
	}
	size := int(binary.LittleEndian.Uint32(page[off:]))
	if size < safariRecordHeader || off+size > len(page) {
		return Cookie{}, false
	}
	rec := page[off : off+size]
	field := func(at int) (string, bool) {
		start := int(binary.LittleEndian.Uint32(rec[at:]))
		if start <= 0 || start >= len(rec) {
			return "", false
		}
		end := bytes.IndexByte(rec[start:], 0)
		if end < 0 {
			return "", false
		}
		return string(rec[start : start+end]), true
	}
	domain, ok1 := field(16)
	name, ok2 := field(20)
	path, ok3 := field(24)
	value, ok4 := field(28)
	if !ok1 || !ok2 || !ok4 || name == "" {
		return Cookie{}, false
	}
	if !ok3 {
		path = ""
	}
	return Cookie{Name: name, Value: value, Domain: domain, Path: path}, true
}

package cookies

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// FirefoxReader extracts cookies from a Firefox profile's cookies.sqlite.
type FirefoxReader struct {
	SQL     SQLRunner
	HomeDir string
	GOOS    string
}

// NewFirefoxReader wires the reader to the configured SQL runner.
func NewFirefoxReader() *FirefoxReader {
	return &FirefoxReader{SQL: NewSQLRunner()}
}

func (r *FirefoxReader) Read(ctx context.Context, opts ReadOptions) Result {
	var res Result
	profileDir, err := r.profileDir(opts.Profile)
	if err != nil {
		res.Warnings = append(res.Warnings, "firefox: "+err.Error())
		return res
	}
	dbPath := filepath.Join(profileDir, "cookies.sqlite")
	if !fileExists(dbPath) {
		res.Warnings = append(res.Warnings, "firefox: cookies.sqlite not found in "+profileDir)
		return res
	}

	tmpDir, err := os.MkdirTemp("", "go-transcript-firefox-*")
	if err != nil {
		res.Warnings = append(res.Warnings, "firefox: temp dir: "+err.Error())
		return res
	}
	defer os.RemoveAll(tmpDir)

	copyPath := filepath.Join(tmpDir, "cookies.sqlite")
	if err := copyFile(dbPath, copyPath); err != nil {
		res.Warnings = append(res.Warnings, "firefox: copy cookie db: "+err.Error())
		return res
	}
	for _, side := range []string{"-wal", "-shm"} {
		if fileExists(dbPath + side) {
			_ = copyFile(dbPath+side, copyPath+side)
		}
	}

	query := "SELECT name, value, host FROM moz_cookies WHERE host IN " +
		sqlInList(hostVariants(opts.Domains)) + " ORDER BY name"
	rows, err := r.SQL.Query(ctx, copyPath, query, 3)
	if err != nil {
		res.Warnings = append(res.Warnings, "firefox: "+err.Error())
		return res
	}
	res.Cookies = ParseFirefoxRows(rows)
	if len(res.Cookies) == 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("firefox: no cookies for %s", strings.Join(opts.Domains, ", ")))
	}
	return res
}

// ParseFirefoxRows converts `name|value[|host]` rows.
func ParseFirefoxRows(rows [][]string) []Cookie {
	var out []Cookie
	for _, row := range rows {
		if len(row) < 2 || row[0] == "" {
			continue
		}
		c := Cookie{Name: row[0], Value: row[1]}
		if len(row) > 2 {
			c.Domain = row[2]
		}
		out = append(out, c)
	}
	return out
}

func (r *FirefoxReader) profilesRoot() (string, error) {
	home := r.HomeDir
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "", err
		}
	}
	goos := r.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Firefox", "Profiles"), nil
	case "linux":
		return filepath.Join(home, ".mozilla", "firefox"), nil
	default:
		return "", fmt.Errorf("unsupported platform %s", goos)
	}
}

// profileDir picks the explicit profile, else *default-release*, else the first
// profile directory in name order.
func (r *FirefoxReader) profileDir(profile string) (string, error) {
	if profile != "" {
		if st, err := os.Stat(profile); err == nil && st.IsDir() {
			return profile, nil
		}
	}
	root, err := r.profilesRoot()
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("no profiles directory: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	name := pickFirefoxProfile(dirs, profile)
	if name == "" {
		if profile != "" {
			return "", fmt.Errorf("profile %q not found", profile)
		}
		return "", errors.New("no profiles found")
	}
	return filepath.Join(root, name), nil
}

// pickFirefoxProfile selects from directory names like "abcd1234.default-release".
func pickFirefoxProfile(dirs []string, want string) string {
	if want != "" {
		for _, d := range dirs {
			if d == want || strings.HasSuffix(d, "."+want) {
				return d
			}
		}
		return ""
	}
	for _, d := range dirs {
		if strings.Contains(d, "default-release") {
			return d
		}
	}
	if len(dirs) > 0 {
		return dirs[0]
	}
	return ""
}

package cookies

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// Chrome cookie encryption parameters.
const (
	chromeSalt          = "saltysalt"
	chromeKeyLen        = 16
	chromeItersDarwin   = 1003
	chromeItersLinux    = 1
	chromeLinuxFallback = "peanuts"
	// Databases at meta version 24+ prefix plaintext with sha256(host_key).
	chromeHostDigestVersion = 24
	chromeHostDigestLen     = 32
)

var chromeIV = bytes.Repeat([]byte{' '}, aes.BlockSize)

// chromeBrowser describes one Chromium-based browser's on-disk layout.
type chromeBrowser struct {
	darwinDir string // under ~/Library/Application Support
	linuxDir  string // under ~/.config
	keychain  string // macOS keychain service
	secretApp string // libsecret "application" attribute
}

var chromeBrowsers = map[string]chromeBrowser{
	"chrome":   {darwinDir: "Google/Chrome", linuxDir: "google-chrome", keychain: "Chrome Safe Storage", secretApp: "chrome"},
	"chromium": {darwinDir: "Chromium", linuxDir: "chromium", keychain: "Chromium Safe Storage", secretApp: "chromium"},
	"brave":    {darwinDir: "BraveSoftware/Brave-Browser", linuxDir: "BraveSoftware/Brave-Browser", keychain: "Brave Safe Storage", secretApp: "brave"},
	"edge":     {darwinDir: "Microsoft Edge", linuxDir: "microsoft-edge", keychain: "Microsoft Edge Safe Storage", secretApp: "microsoft-edge"},
}

// ChromeReader extracts cookies from Chrome-family browsers.
type ChromeReader struct {
	SQL     SQLRunner
	Run     engine.CommandRunner // keychain / secret-tool
	HomeDir string               // empty = os.UserHomeDir
	GOOS    string               // empty = runtime.GOOS
	Timeout time.Duration
}

// NewChromeReader wires the reader to the configured SQL runner and real subprocesses.
func NewChromeReader() *ChromeReader {
	return &ChromeReader{SQL: NewSQLRunner(), Run: engine.RunCommand}
}

func (r *ChromeReader) goos() string {
	if r.GOOS != "" {
		return r.GOOS
	}
	return runtime.GOOS
}

// Read copies the browser's cookie database to a temp dir, queries rows for the
// requested domains and decrypts them.
func (r *ChromeReader) Read(ctx context.Context, opts ReadOptions) Result {
	engine.IncrCookieRead()
	var res Result
	browser := opts.Browser
	if browser == "" {
		browser = "chrome"
	}
	info, ok := chromeBrowsers[browser]
	if !ok {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: not a Chromium browser", browser))
		return res
	}

	dbPath, err := r.locateDB(info, opts.Profile)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", browser, err))
		return res
	}

	tmpDir, err := os.MkdirTemp("", "go-transcript-chrome-*")
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: temp dir: %v", browser, err))
		return res
	}
	defer os.RemoveAll(tmpDir)

	copyPath := filepath.Join(tmpDir, "Cookies")
	if err := copyFile(dbPath, copyPath); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: copy cookie db: %v", browser, err))
		return res
	}
	for _, side := range []string{"-wal", "-shm"} {
		if fileExists(dbPath + side) {
			_ = copyFile(dbPath+side, copyPath+side)
		}
	}

	hosts := hostVariants(opts.Domains)
	query := "SELECT name, hex(encrypted_value), value, host_key FROM cookies WHERE host_key IN " +
		sqlInList(hosts) + " ORDER BY name"
	rows, err := r.SQL.Query(ctx, copyPath, query, 4)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", browser, err))
		return res
	}
	if len(rows) == 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: no cookies for %s", browser, strings.Join(opts.Domains, ", ")))
		return res
	}

	stripDigest := r.metaVersion(ctx, copyPath) >= chromeHostDigestVersion
	var key []byte
	if needsKey(rows) {
		pass := r.passphrase(ctx, info)
		if pass == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: keychain passphrase unavailable; encrypted cookies skipped", browser))
		} else {
			key = deriveChromeKey(pass, r.iterations())
		}
	}

	cookies, warnings := decodeChromeRows(rows, key, stripDigest)
	res.Cookies = cookies
	for _, w := range warnings {
		res.Warnings = append(res.Warnings, browser+": "+w)
	}
	return res
}

func (r *ChromeReader) iterations() int {
	if r.goos() == "darwin" {
		return chromeItersDarwin
	}
	return chromeItersLinux
}

func (r *ChromeReader) home() (string, error) {
	if r.HomeDir != "" {
		return r.HomeDir, nil
	}
	return os.UserHomeDir()
}

// locateDB resolves the Cookies file for a profile. A profile that is itself a
// path to an existing file is used as-is.
func (r *ChromeReader) locateDB(info chromeBrowser, profile string) (string, error) {
	if profile != "" && fileExists(profile) {
		return profile, nil
	}
	home, err := r.home()
	if err != nil {
		return "", err
	}
	if profile == "" {
		profile = "Default"
	}
	var root string
	switch r.goos() {
	case "darwin":
		root = filepath.Join(home, "Library", "Application Support", info.darwinDir)
	case "linux":
		root = filepath.Join(home, ".config", info.linuxDir)
	default:
		return "", fmt.Errorf("unsupported platform %s", r.goos())
	}
	for _, candidate := range []string{
		filepath.Join(root, profile, "Network", "Cookies"),
		filepath.Join(root, profile, "Cookies"),
	} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cookie database not found under %s", filepath.Join(root, profile))
}

// passphrase reads the browser's Safe Storage secret. Empty means unavailable.
func (r *ChromeReader) passphrase(ctx context.Context, info chromeBrowser) string {
	run := r.Run
	if run == nil {
		run = engine.RunCommand
	}
	switch r.goos() {
	case "darwin":
		out, err := run(ctx, r.Timeout, "security", "find-generic-password", "-w", "-s", info.keychain)
		if err != nil {
			slog.Debug("cookies: keychain lookup failed", slog.String("service", info.keychain), slog.Any("error", err))
			return ""
		}
		return strings.TrimSpace(string(out))
	default:
		out, err := run(ctx, r.Timeout, "secret-tool", "lookup", "application", info.secretApp)
		if err == nil {
			if pass := strings.TrimSpace(string(out)); pass != "" {
				return pass
			}
		}
		return chromeLinuxFallback
	}
}

func (r *ChromeReader) metaVersion(ctx context.Context, dbPath string) int {
	rows, err := r.SQL.Query(ctx, dbPath, "SELECT value FROM meta WHERE key = 'version'", 1)
	if err != nil || len(rows) == 0 {
		return 0
	}
	v, _ := strconv.Atoi(strings.TrimSpace(rows[0][0]))
	return v
}

func needsKey(rows [][]string) bool {
	for _, row := range rows {
		if len(row) > 1 && strings.HasPrefix(strings.ToUpper(row[1]), "7631") { // "v1"
			return true
		}
	}
	return false
}

// decodeChromeRows turns `name|hex(encrypted_value)[|value|host]` rows into cookies.
// Rows whose encrypted value cannot be decrypted are skipped with a warning.
func decodeChromeRows(rows [][]string, key []byte, stripDigest bool) ([]Cookie, []string) {
	var cookies []Cookie
	var warnings []string
	for _, row := range rows {
		if len(row) < 2 || row[0] == "" {
			continue
		}
		c := Cookie{Name: row[0]}
		if len(row) > 3 {
			c.Domain = row[3]
		}
		encHex := strings.TrimSpace(row[1])
		if encHex == "" {
			if len(row) > 2 && row[2] != "" {
				c.Value = row[2]
				cookies = append(cookies, c)
			}
			continue
		}
		enc, err := hex.DecodeString(encHex)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("cookie %s: bad hex value", c.Name))
			continue
		}
		if isVersioned(enc) && key == nil {
			continue
		}
		val, err := decryptChromeValue(enc, key, stripDigest)
		if err != nil {
			engine.IncrCookieDecryptError()
			warnings = append(warnings, fmt.Sprintf("cookie %s: %v", c.Name, err))
			continue
		}
		c.Value = val
		cookies = append(cookies, c)
	}
	return cookies, warnings
}

func deriveChromeKey(passphrase string, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(chromeSalt), iterations, chromeKeyLen, sha1.New)
}

func isVersioned(enc []byte) bool {
	return len(enc) >= 3 && (string(enc[:3]) == "v10" || string(enc[:3]) == "v11")
}

// decryptChromeValue strips the v10/v11 prefix and AES-128-CBC decrypts the rest.
// Values without a known prefix are already plaintext.
func decryptChromeValue(enc, key []byte, stripDigest bool) (string, error) {
	if !isVersioned(enc) {
		return string(enc), nil
	}
	ct := enc[3:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not a whole number of blocks")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, chromeIV).CryptBlocks(pt, ct)
	pt, err = pkcs7Unpad(pt)
	if err != nil {
		return "", err
	}
	if stripDigest && len(pt) >= chromeHostDigestLen {
		pt = pt[chromeHostDigestLen:]
	}
	return string(pt), nil
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("bad padding (wrong passphrase?)")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("bad padding (wrong passphrase?)")
		}
	}
	return b[:len(b)-n], nil
}

package cookies

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_transcript/internal/engine"

	_ "modernc.org/sqlite"
)

// SQLRunner queries a (copied) SQLite cookie database and returns rows of
// exactly cols text columns.
type SQLRunner interface {
	Query(ctx context.Context, dbPath, query string, cols int) ([][]string, error)
}

// NewSQLRunner returns the shell runner when a sqlite3 binary is configured,
// otherwise the in-process driver.
func NewSQLRunner() SQLRunner {
	if bin := engine.Cfg.SQLite3Path; bin != "" {
		return &ShellRunner{Bin: bin, Run: engine.RunCommand}
	}
	return DriverRunner{}
}

// ShellRunner invokes the sqlite3 CLI with a pipe separator.
type ShellRunner struct {
	Bin     string
	Run     engine.CommandRunner
	Timeout time.Duration
}

func (r *ShellRunner) Query(ctx context.Context, dbPath, query string, cols int) ([][]string, error) {
	bin := r.Bin
	if bin == "" {
		bin = "sqlite3"
	}
	run := r.Run
	if run == nil {
		run = engine.RunCommand
	}
	out, err := run(ctx, r.Timeout, bin, "-readonly", "-noheader", "-separator", "|", dbPath, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite3 query: %w", err)
	}
	return ParseRows(string(out), cols), nil
}

// ParseRows splits sqlite3 `a|b|c` output into rows. The last column absorbs any
// extra separators so values containing '|' survive. Blank lines are skipped.
func ParseRows(out string, cols int) [][]string {
	var rows [][]string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "|", cols)
		for len(fields) < cols {
			fields = append(fields, "")
		}
		rows = append(rows, fields)
	}
	return rows
}

// DriverRunner reads the database in-process with modernc.org/sqlite. The
// path must be a private copy: read-only mode still replays a copied -wal.
type DriverRunner struct{}

func (DriverRunner) Query(ctx context.Context, dbPath, query string, cols int) ([][]string, error) {
	dsn := (&url.URL{Scheme: "file", Path: dbPath, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cookie db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query cookie db: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		vals := make([]any, cols)
		ptrs := make([]any, cols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan cookie row: %w", err)
		}
		row := make([]string, cols)
		for i, v := range vals {
			row[i] = sqlText(v)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func sqlText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// sqlInList renders values as a quoted SQL IN list.
func sqlInList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return "(" + strings.Join(quoted, ",") + ")"
}

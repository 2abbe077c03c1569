package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrNoRows is returned when a file has a header but no data rows.
var ErrNoRows = eris.New("ingest: no lead rows found")

// Options tunes parsing. The zero value reads comma-separated CSV and the
// first worksheet of an XLSX file.
type Options struct {
	CSV  CSVOptions
	XLSX XLSXOptions
}

// LoadFile reads the lead list at path. The format is chosen by extension.
func LoadFile(ctx context.Context, path string, opts Options) ([]model.Lead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Load(ctx, filepath.Base(path), f, opts)
}

// Load parses a lead list read from r. name is only used to pick the
// format.
func Load(ctx context.Context, name string, r io.Reader, opts Options) ([]model.Lead, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt", "":
		rows, err = readCSV(ctx, r, opts.CSV)
	case ".tsv":
		csvOpts := opts.CSV
		csvOpts.Delimiter = '\t'
		rows, err = readCSV(ctx, r, csvOpts)
	case ".xlsx":
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", name)
		}
		rows, err = readXLSX(buf.Bytes(), opts.XLSX)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", name)
	}
	return toLeads(rows)
}

// toLeads maps data rows onto the header row. Blank rows are skipped,
// missing trailing cells become null and cells past the header are dropped.
func toLeads(rows [][]string) ([]model.Lead, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: file is empty")
	}

	header := normalizeHeader(rows[0])
	var leads []model.Lead
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		lead := make(model.Lead, len(header))
		for i, col := range header {
			if i < len(row) {
				lead[col] = model.String(strings.TrimSpace(row[i]))
			} else {
				lead[col] = model.Null()
			}
		}
		leads = append(leads, lead)
	}
	if len(leads) == 0 {
		return nil, ErrNoRows
	}
	return leads, nil
}

func normalizeHeader(row []string) []string {
	out := make([]string, len(row))
	seen := make(map[string]int, len(row))
	for i, h := range row {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n+1)
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Package cli holds operator commands that run without the HTTP server.
package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fiacom/gestionale/internal/conto"
	"github.com/fiacom/gestionale/internal/conto/dedup"
	"github.com/fiacom/gestionale/internal/conto/sheet"
	"github.com/fiacom/gestionale/internal/conto/split"
)

// PreviewOptions configures the conto-preview command.
type PreviewOptions struct {
	File         string
	SourceReader io.Reader
	Account      conto.Account
	ManagerPct   *float64
	CenterPct    *float64
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// PreviewRow is one normalized record with the split it would produce.
type PreviewRow struct {
	sheet.Record
	ImportKey string        `json:"importKey"`
	Split     *split.Shares `json:"split,omitempty"`
	Problem   string        `json:"problem,omitempty"`
}

// PreviewSummary is the output of conto-preview.
type PreviewSummary struct {
	File      string        `json:"file"`
	FileHash  string        `json:"fileHash"`
	HeaderRow int           `json:"headerRow"`
	Columns   []sheet.Field `json:"columns"`
	Rows      []PreviewRow  `json:"rows"`
	Problems  int           `json:"problems"`
}

// ParsePreviewArgs maps command line flags onto PreviewOptions.
func ParsePreviewArgs(args []string, stdout, stderr io.Writer) (PreviewOptions, error) {
	fs := flag.NewFlagSet("conto-preview", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "spreadsheet to analyse (.xlsx, .xls, .csv); - reads csv from stdin")
	account := fs.String("account", string(conto.AccountProselitismo), "ledger the file belongs to")
	managerPct := fs.Float64("manager-pct", -1, "territorial manager percentage of the base amount")
	centerPct := fs.Float64("center-pct", -1, "job center percentage of the base amount")
	jsonOut := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return PreviewOptions{}, err
	}
	acc, err := conto.ParseAccount(*account)
	if err != nil {
		return PreviewOptions{}, err
	}
	opts := PreviewOptions{File: *file, Account: acc, JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr}
	if *managerPct >= 0 {
		opts.ManagerPct = managerPct
	}
	if *centerPct >= 0 {
		opts.CenterPct = centerPct
	}
	return opts, nil
}

// RunPreview normalizes a spreadsheet and prints each row with its import
// key and split. It returns 10 when at least one row would be rejected.
func RunPreview(opts PreviewOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Account == "" {
		opts.Account = conto.AccountProselitismo
	}
	name, data, err := loadSpreadsheet(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "conto preview: %v\n", err)
		return 1
	}
	grid, err := sheet.Read(name, data)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "conto preview: %v\n", err)
		return 1
	}
	parsed, err := sheet.Normalize(grid)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "conto preview: %v\n", err)
		return 1
	}

	summary := PreviewSummary{File: name, FileHash: dedup.FileHash(data), HeaderRow: parsed.HeaderRow}
	for field := range parsed.Columns {
		summary.Columns = append(summary.Columns, field)
	}
	sort.Slice(summary.Columns, func(i, j int) bool { return summary.Columns[i] < summary.Columns[j] })
	for _, rec := range parsed.Records {
		row := PreviewRow{Record: rec, ImportKey: dedup.KeyForRecord(opts.Account, rec)}
		switch {
		case strings.TrimSpace(rec.CompanyName) == "" && strings.TrimSpace(rec.RegistrationNumber) == "":
			row.Problem = "missing company"
		case rec.Base != nil && *rec.Base > 0:
			shares, err := split.Compute(decimal.NewFromFloat(*rec.Base), opts.ManagerPct, opts.CenterPct)
			if err != nil {
				row.Problem = err.Error()
			} else {
				row.Split = &shares
			}
		case rec.Unreconciled != nil && *rec.Unreconciled > 0:
		default:
			row.Problem = "missing amount"
		}
		if row.Problem != "" {
			summary.Problems++
		}
		summary.Rows = append(summary.Rows, row)
	}

	if err := writePreview(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "conto preview: %v\n", err)
		return 1
	}
	if summary.Problems > 0 {
		return 10
	}
	return 0
}

func loadSpreadsheet(opts PreviewOptions) (string, []byte, error) {
	switch {
	case opts.SourceReader != nil:
		data, err := io.ReadAll(opts.SourceReader)
		name := opts.File
		if filepath.Ext(name) == "" {
			name = "stdin.csv"
		}
		return name, data, err
	case strings.TrimSpace(opts.File) == "":
		return "", nil, errors.New("-file is required")
	case opts.File == "-":
		data, err := io.ReadAll(os.Stdin)
		return "stdin.csv", data, err
	default:
		data, err := os.ReadFile(opts.File)
		return filepath.Base(opts.File), data, err
	}
}

func writePreview(opts PreviewOptions, summary PreviewSummary) error {
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	out := opts.Stdout
	fmt.Fprintf(out, "%s (sha256 %s), header on row %d\n", summary.File, summary.FileHash[:12], summary.HeaderRow)
	for _, row := range summary.Rows {
		company := row.CompanyName
		if company == "" {
			company = row.RegistrationNumber
		}
		switch {
		case row.Problem != "":
			fmt.Fprintf(out, " %4d  %-30s  rejected: %s\n", row.Row, company, row.Problem)
		case row.Split != nil:
			fmt.Fprintf(out, " %4d  %-30s  base %s  house %s  manager %s  center %s\n",
				row.Row, company, row.Split.Base.StringFixed(2), row.Split.House.StringFixed(2),
				row.Split.Manager.StringFixed(2), row.Split.Center.StringFixed(2))
		default:
			fmt.Fprintf(out, " %4d  %-30s  unreconciled %.2f\n", row.Row, company, *row.Unreconciled)
		}
	}
	fmt.Fprintf(out, "%d row(s), %d rejected\n", len(summary.Rows), summary.Problems)
	return nil
}

package sheet

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Field is a logical column of a revenue spreadsheet.
type Field string

const (
	FieldMonth              Field = "month"
	FieldYear               Field = "year"
	FieldRegistrationNumber Field = "registrationNumber"
	FieldCompanyName        Field = "companyName"
	FieldUnreconciled       Field = "unreconciledAmount"
	FieldReconciled         Field = "reconciledAmount"
	FieldHealthFund         Field = "healthFundAmount"
	FieldBase               Field = "baseAmount"
)

// Aliases lists the accepted header names per field. Headers are compared
// after lower-casing and collapsing whitespace.
var Aliases = map[Field][]string{
	FieldMonth:              {"mese", "month", "mese competenza", "mese di competenza"},
	FieldYear:               {"anno", "year", "anno competenza", "anno di competenza"},
	FieldRegistrationNumber: {"matricola", "matricola inps", "n. matricola", "n matricola", "numero matricola", "inps", "posizione inps"},
	FieldCompanyName:        {"azienda", "ragione sociale", "denominazione", "nome azienda", "company", "impresa"},
	FieldUnreconciled:       {"non riconciliato", "importo non riconciliato", "non riconciliate", "da riconciliare", "quote non riconciliate"},
	FieldReconciled:         {"riconciliato", "importo riconciliato", "riconciliate", "quote riconciliate"},
	FieldHealthFund:         {"cassa sanitaria", "fondo sanitario", "sanitaria", "importo sanitaria"},
	FieldBase:               {"quota fiacom", "imponibile", "importo", "base", "quota", "importo quota"},
}

// headerScanRows bounds how far below the top title rows the header may sit.
const headerScanRows = 10

var ErrNoDataRows = errors.New("sheet: no data rows")

// Record is one canonical data row. Row is the 1-based spreadsheet line.
type Record struct {
	Row                int      `json:"row"`
	Month              *int     `json:"month,omitempty"`
	Year               *int     `json:"year,omitempty"`
	RegistrationNumber string   `json:"registrationNumber,omitempty"`
	CompanyName        string   `json:"companyName,omitempty"`
	Unreconciled       *float64 `json:"unreconciledAmount,omitempty"`
	Reconciled         *float64 `json:"reconciledAmount,omitempty"`
	HealthFund         *float64 `json:"healthFundAmount,omitempty"`
	Base               *float64 `json:"baseAmount,omitempty"`
}

// Sheet is the normalized content of a workbook.
type Sheet struct {
	HeaderRow int           `json:"headerRow"`
	Columns   map[Field]int `json:"columns"`
	Records   []Record      `json:"records"`
}

// Normalize resolves the header row and maps every non-empty data row to a
// Record. It fails only when no data rows remain.
func Normalize(grid Grid) (*Sheet, error) {
	headerIdx, columns := findHeader(grid)
	if headerIdx < 0 {
		return nil, ErrNoDataRows
	}
	out := &Sheet{HeaderRow: headerIdx + 1, Columns: columns}
	for i := headerIdx + 1; i < len(grid); i++ {
		row := grid[i]
		if isEmptyRow(row) {
			continue
		}
		rec := Record{Row: i + 1}
		get := func(f Field) any {
			idx, ok := columns[f]
			if !ok || idx >= len(row) {
				return nil
			}
			return row[idx]
		}
		rec.Month = ParseMonth(get(FieldMonth))
		rec.Year = ParseYear(get(FieldYear))
		rec.RegistrationNumber = CellString(get(FieldRegistrationNumber))
		rec.CompanyName = CellString(get(FieldCompanyName))
		rec.Unreconciled = ParseNumber(get(FieldUnreconciled))
		rec.Reconciled = ParseNumber(get(FieldReconciled))
		rec.HealthFund = ParseNumber(get(FieldHealthFund))
		rec.Base = ParseNumber(get(FieldBase))
		out.Records = append(out.Records, rec)
	}
	if len(out.Records) == 0 {
		return nil, ErrNoDataRows
	}
	return out, nil
}

func findHeader(grid Grid) (int, map[Field]int) {
	first := -1
	var firstCols map[Field]int
	for i := 0; i < len(grid) && i < headerScanRows; i++ {
		if isEmptyRow(grid[i]) {
			continue
		}
		cols := resolveColumns(grid[i])
		if first < 0 {
			first, firstCols = i, cols
		}
		if len(cols) >= 2 {
			return i, cols
		}
	}
	return first, firstCols
}

func resolveColumns(header []any) map[Field]int {
	lookup := make(map[string]Field)
	for field, names := range Aliases {
		for _, name := range names {
			lookup[HeaderKey(name)] = field
		}
	}
	cols := make(map[Field]int)
	for idx, cell := range header {
		field, ok := lookup[HeaderKey(CellString(cell))]
		if !ok {
			continue
		}
		if _, seen := cols[field]; !seen {
			cols[field] = idx
		}
	}
	return cols
}

// HeaderKey lower-cases a header and collapses runs of whitespace.
func HeaderKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func isEmptyRow(row []any) bool {
	for _, cell := range row {
		if CellString(cell) != "" {
			return false
		}
	}
	return true
}

// CellString renders a cell as trimmed text. Whole floats print without a
// fractional part so numeric registration numbers survive.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}

var thousandsOnly = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)

// ParseNumber parses a numeric cell using the Italian convention ('.'
// thousands, ',' decimals). It returns nil for blank or unparsable input.
func ParseNumber(v any) *float64 {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return &val
	case int:
		f := float64(val)
		return &f
	case string:
		return parseNumberText(val)
	default:
		return nil
	}
}

func parseNumberText(raw string) *float64 {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("€", "", "EUR", "", "eur", "", " ", "", "\u00a0", "", "'", "").Replace(s)
	if s == "" || s == "-" {
		return nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case thousandsOnly.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if negative {
		f = -f
	}
	return &f
}

var monthNames = map[string]int{
	"gennaio": 1, "febbraio": 2, "marzo": 3, "aprile": 4, "maggio": 5, "giugno": 6,
	"luglio": 7, "agosto": 8, "settembre": 9, "ottobre": 10, "novembre": 11, "dicembre": 12,
	"gen": 1, "feb": 2, "mar": 3, "apr": 4, "mag": 5, "giu": 6,
	"lug": 7, "ago": 8, "set": 9, "ott": 10, "nov": 11, "dic": 12,
}

// ParseMonth accepts Italian month names (full or three-letter) or numbers,
// clamping numeric values to [1,12].
func ParseMonth(v any) *int {
	text := strings.ToLower(CellString(v))
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, ".")
	if m, ok := monthNames[text]; ok {
		return &m
	}
	if len(text) > 3 {
		if m, ok := monthNames[text[:3]]; ok {
			return &m
		}
	}
	n := ParseNumber(v)
	if n == nil {
		return nil
	}
	m := int(math.Round(*n))
	if m < 1 {
		m = 1
	}
	if m > 12 {
		m = 12
	}
	return &m
}

// ParseYear accepts four-digit years and two-digit years of this century.
func ParseYear(v any) *int {
	text := CellString(v)
	if text == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(text, ".", ""), 64)
	if err != nil {
		return nil
	}
	y := int(f)
	if y >= 0 && y < 100 {
		y += 2000
	}
	if y < 1900 || y > 2200 {
		return nil
	}
	return &y
}

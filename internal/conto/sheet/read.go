// Package sheet turns uploaded spreadsheets into canonical revenue rows.
package sheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// Grid is a 2-D cell matrix. Cells are nil, string or float64.
type Grid [][]any

var (
	ErrUnsupportedFormat = errors.New("sheet: unsupported file format")
	ErrEmptyWorkbook     = errors.New("sheet: workbook has no sheets")
)

const maxXLSRows = 65536

// Read decodes a workbook according to the file extension.
func Read(fileName string, data []byte) (Grid, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(data)
	case ".xls":
		return ReadXLS(data)
	case ".csv", ".txt":
		return ReadCSV(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(fileName))
	}
}

// ReadXLSX reads the first sheet of an Office Open XML workbook. Numeric
// cells keep their float value so locale formatting never reaches the parser.
func ReadXLSX(data []byte) (Grid, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sheet: open xlsx: %w", err)
	}
	defer func() { _ = book.Close() }()

	name := book.GetSheetName(0)
	if name == "" {
		return nil, ErrEmptyWorkbook
	}
	raw, err := book.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("sheet: read rows: %w", err)
	}

	grid := make(Grid, len(raw))
	for i, row := range raw {
		cells := make([]any, len(row))
		for j, value := range row {
			if value == "" {
				continue
			}
			ref, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				cells[j] = value
				continue
			}
			cellType, err := book.GetCellType(name, ref)
			if err == nil && isNumericCell(cellType) {
				if f, perr := strconv.ParseFloat(value, 64); perr == nil {
					cells[j] = f
					continue
				}
			}
			cells[j] = value
		}
		grid[i] = cells
	}
	return grid, nil
}

func isNumericCell(t excelize.CellType) bool {
	return t == excelize.CellTypeNumber || t == excelize.CellTypeUnset
}

// ReadXLS reads the first sheet of a legacy BIFF workbook.
func ReadXLS(data []byte) (Grid, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("sheet: open xls: %w", err)
	}
	if book.NumSheets() == 0 {
		return nil, ErrEmptyWorkbook
	}
	rows := book.ReadAllCells(maxXLSRows)
	grid := make(Grid, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, value := range row {
			if value != "" {
				cells[j] = value
			}
		}
		grid[i] = cells
	}
	return grid, nil
}

// ReadCSV reads comma or semicolon separated text. The delimiter is sniffed
// from the first line; Italian exports default to ';'. Input that is not
// valid UTF-8 is decoded as Windows-1252, the encoding Excel uses for CSV.
func ReadCSV(data []byte) (Grid, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("sheet: decode csv: %w", err)
		}
		data = decoded
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("sheet: read csv: %w", err)
	}
	grid := make(Grid, len(records))
	for i, record := range records {
		cells := make([]any, len(record))
		for j, value := range record {
			if strings.TrimSpace(value) != "" {
				cells[j] = value
			}
		}
		grid[i] = cells
	}
	return grid, nil
}

func sniffDelimiter(data []byte) rune {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() {
		return ';'
	}
	line := scanner.Text()
	if strings.Count(line, ";") >= strings.Count(line, ",") && strings.Contains(line, ";") {
		return ';'
	}
	if strings.Contains(line, ",") {
		return ','
	}
	if strings.Contains(line, "\t") {
		return '\t'
	}
	return ';'
}

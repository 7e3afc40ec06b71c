package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseNumberItalianConvention(t *testing.T) {
	cases := map[string]any{
		"1.234,56":  1234.56,
		"1234,5":    1234.5,
		"€ 1.000":   1000.0,
		"1.234.567": 1234567.0,
		"12.5":      12.5,
		"(10,00)":   -10.0,
		"  800 ":    800.0,
	}
	for in, want := range cases {
		got := ParseNumber(in)
		require.NotNil(t, got, in)
		assert.InDelta(t, want, *got, 0.0001, in)
	}
	for _, in := range []any{"", "-", "n/d", "abc", nil, true} {
		assert.Nil(t, ParseNumber(in), "%v", in)
	}
	f := ParseNumber(42.25)
	require.NotNil(t, f)
	assert.Equal(t, 42.25, *f)
}

func TestParseMonth(t *testing.T) {
	cases := map[any]int{
		"Gennaio":  1,
		"mag":      5,
		"Set.":     9,
		"dicembre": 12,
		"3":        3,
		"0":        1,
		"15":       12,
		7.0:        7,
	}
	for in, want := range cases {
		got := ParseMonth(in)
		require.NotNil(t, got, "%v", in)
		assert.Equal(t, want, *got, "%v", in)
	}
	assert.Nil(t, ParseMonth("boh"))
	assert.Nil(t, ParseMonth(nil))
}

func TestParseYear(t *testing.T) {
	y := ParseYear("2024")
	require.NotNil(t, y)
	assert.Equal(t, 2024, *y)
	y = ParseYear(24.0)
	require.NotNil(t, y)
	assert.Equal(t, 2024, *y)
	assert.Nil(t, ParseYear("anno"))
}

func TestNormalizeResolvesAliasesAndSkipsEmptyRows(t *testing.T) {
	grid := Grid{
		{"Riepilogo versamenti"},
		{" MESE ", "Anno", "Matricola  INPS", "Ragione Sociale", "Quota FIACOM", "Non riconciliato", "Colonna ignota"},
		{"marzo", "2024", 1234567890.0, "Alfa Srl", "1.000,00", nil, "x"},
		{nil, "", "   "},
		{"4", 2024.0, "", "Beta Snc", nil, "250,50"},
	}
	out, err := Normalize(grid)
	require.NoError(t, err)
	assert.Equal(t, 2, out.HeaderRow)
	require.Len(t, out.Records, 2)

	first := out.Records[0]
	assert.Equal(t, 3, first.Row)
	require.NotNil(t, first.Month)
	assert.Equal(t, 3, *first.Month)
	assert.Equal(t, "1234567890", first.RegistrationNumber)
	assert.Equal(t, "Alfa Srl", first.CompanyName)
	require.NotNil(t, first.Base)
	assert.Equal(t, 1000.0, *first.Base)
	assert.Nil(t, first.Unreconciled)

	second := out.Records[1]
	assert.Equal(t, 5, second.Row)
	assert.Nil(t, second.Base)
	require.NotNil(t, second.Unreconciled)
	assert.InDelta(t, 250.5, *second.Unreconciled, 0.0001)
}

func TestNormalizeNoDataRows(t *testing.T) {
	_, err := Normalize(Grid{{"Mese", "Anno", "Azienda"}, {nil, ""}})
	require.ErrorIs(t, err, ErrNoDataRows)

	_, err = Normalize(Grid{})
	require.ErrorIs(t, err, ErrNoDataRows)
}

func TestReadXLSXKeepsNumericCells(t *testing.T) {
	book := excelize.NewFile()
	require.NoError(t, book.SetSheetRow("Sheet1", "A1", &[]any{"Mese", "Anno", "Azienda", "Imponibile"}))
	require.NoError(t, book.SetSheetRow("Sheet1", "A2", &[]any{"Aprile", 2024, "Gamma Spa", 1234.5}))
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	grid, err := Read("upload.XLSX", buf.Bytes())
	require.NoError(t, err)
	out, err := Normalize(grid)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	require.NotNil(t, out.Records[0].Base)
	assert.Equal(t, 1234.5, *out.Records[0].Base)
	require.NotNil(t, out.Records[0].Year)
	assert.Equal(t, 2024, *out.Records[0].Year)
}

func TestReadCSVSniffsSemicolon(t *testing.T) {
	data := []byte("\xef\xbb\xbfMese;Anno;Azienda;Importo\n1;2024;Delta Srl;\"2.500,75\"\n")
	grid, err := Read("file.csv", data)
	require.NoError(t, err)
	out, err := Normalize(grid)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	require.NotNil(t, out.Records[0].Base)
	assert.InDelta(t, 2500.75, *out.Records[0].Base, 0.0001)
}

func TestReadCSVDecodesWindows1252(t *testing.T) {
	data := []byte("Mese;Anno;Azienda;Importo\n3;2024;Societ\xe0 Cooperativa;100\n")
	grid, err := ReadCSV(data)
	require.NoError(t, err)
	out, err := Normalize(grid)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "Società Cooperativa", out.Records[0].CompanyName)
}

func TestReadRejectsUnknownExtension(t *testing.T) {
	_, err := Read("file.pdf", []byte("%PDF"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

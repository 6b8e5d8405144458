// Package fileio turns raw upload bytes into an in-memory table. It
// dispatches on file extension, reads the first sheet only, and applies the
// configured header-row skip. Parse failures surface as ReadError; a file
// is never partially returned.
package fileio

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"

	"payment-reconciliation-engine/pkg/errors"
)

// Format is the detected upload file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

// RawTable is the parsed tabular content of one upload file.
type RawTable struct {
	Headers []string
	Rows    [][]string
	Format  Format
}

// ColumnIndex returns the position of a column by case-insensitive name,
// or -1 when absent.
func (t *RawTable) ColumnIndex(name string) int {
	for i, header := range t.Headers {
		if strings.EqualFold(strings.TrimSpace(header), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// Cell returns the value at (row, col), tolerating ragged rows.
func (t *RawTable) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// ReadTable parses upload bytes into a RawTable. headerRows leading rows
// are skipped before the header line; the rest become data rows.
func ReadTable(data []byte, filename string, headerRows int) (*RawTable, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xlsx":
		return readExcel(data, filename, headerRows, FormatXLSX)
	case ".xls":
		return readXLS(data, filename, headerRows)
	case ".csv":
		return readCSV(data, filename, headerRows)
	default:
		return nil, errors.New(errors.CategoryFile, errors.CodeUnsupportedType,
			fmt.Sprintf("unsupported file type %q for %s", ext, filename))
	}
}

func readExcel(data []byte, filename string, headerRows int, format Format) (*RawTable, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.ReadError(filename, err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ReadError(filename, fmt.Errorf("workbook has no sheets"))
	}

	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return nil, errors.ReadError(filename, err)
	}

	return sliceHeader(rows, filename, headerRows, format)
}

// readXLS parses a legacy BIFF workbook. Many ".xls" exports are in fact
// xlsx content under the old name; those fail the BIFF open and fall back
// to the xlsx decoder.
func readXLS(data []byte, filename string, headerRows int) (*RawTable, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return readExcel(data, filename, headerRows, FormatXLS)
	}

	sheet, err := workbook.GetSheet(0)
	if err != nil {
		return nil, errors.ReadError(filename, err)
	}

	rows := make([][]string, 0, sheet.GetNumberRows())
	for i := 0; i < sheet.GetNumberRows(); i++ {
		r, err := sheet.GetRow(i)
		if err != nil {
			return nil, errors.ReadError(filename, err)
		}
		cols := r.GetCols()
		cells := make([]string, len(cols))
		for j, c := range cols {
			cells[j] = c.GetString()
		}
		rows = append(rows, cells)
	}

	return sliceHeader(rows, filename, headerRows, FormatXLS)
}

func readCSV(data []byte, filename string, headerRows int) (*RawTable, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.ReadError(filename, err)
		}
		rows = append(rows, record)
	}

	return sliceHeader(rows, filename, headerRows, FormatCSV)
}

func sliceHeader(rows [][]string, filename string, headerRows int, format Format) (*RawTable, error) {
	if headerRows < 0 {
		headerRows = 0
	}
	if len(rows) <= headerRows {
		return nil, errors.ReadError(filename,
			fmt.Errorf("file has %d rows, cannot skip %d header rows", len(rows), headerRows))
	}

	return &RawTable{
		Headers: rows[headerRows],
		Rows:    rows[headerRows+1:],
		Format:  format,
	}, nil
}

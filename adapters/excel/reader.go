package excel

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"gocvek/internal"
	"gocvek/internal/errors"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{
		filePath: filePath,
		fileType: fileType,
		logger:   internal.DefaultLogger.With("DataReader"),
	}
}

// ReadData reads the first sheet (XLSX) or the whole file (CSV) into a Table
func (r *DataReader) ReadData() (*Table, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.InvalidInput("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	default:
		return r.readExcelData()
	}
}

func (r *DataReader) readExcelData() (*Table, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Excel file")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.InvalidInput("workbook %s has no sheets", r.filePath)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %s", sheets[0])
	}
	r.logger.Debug("%s read in %.2fms (%d rows)", sheets[0], float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	return r.processRows(rows)
}

func (r *DataReader) readCSVData() (*Table, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CSV file")
	}
	defer file.Close()

	startTime := time.Now()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CSV file")
	}
	r.logger.Debug("CSV file read in %.2fms (%d rows)", float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	return r.processRows(rows)
}

func (r *DataReader) processRows(rows [][]string) (*Table, error) {
	if len(rows) < 2 {
		return nil, errors.InvalidInput("%s file must have at least a header row and one data row", strings.ToUpper(r.fileType))
	}

	headers := make([]string, len(rows[0]))
	index := make(map[string]int, len(headers))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
		index[headers[i]] = i
	}

	data := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		cells := make([]string, len(headers))
		for j := range headers {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
		}
		data = append(data, cells)
	}

	r.logger.Debug("%s file processed (%d columns, %d rows)", strings.ToUpper(r.fileType), len(headers), len(data))
	return &Table{Headers: headers, Rows: data, index: index}, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Table is a rectangular block of string cells keyed by header
type Table struct {
	Headers []string
	Rows    [][]string
	index   map[string]int
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Vector parses one column as floats
func (t *Table) Vector(name string) (*mat.VecDense, error) {
	m, err := t.Matrix([]string{name})
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(t.Len(), m.RawMatrix().Data), nil
}

// Matrix parses the named columns, in order, into an n×len(names) matrix.
// Every cell must be a finite number.
func (t *Table) Matrix(names []string) (*mat.Dense, error) {
	if len(names) == 0 {
		return nil, errors.InvalidInput("no columns requested")
	}
	if t.Len() == 0 {
		return nil, errors.InvalidInput("table has no data rows")
	}

	cols := make([]int, len(names))
	for j, name := range names {
		idx, ok := t.index[strings.TrimSpace(name)]
		if !ok {
			return nil, errors.InvalidInput("unknown column %q", name)
		}
		cols[j] = idx
	}

	out := mat.NewDense(t.Len(), len(names), nil)
	for i, row := range t.Rows {
		for j, idx := range cols {
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil {
				return nil, errors.InvalidInput("column %q row %d: %q is not a number", names[j], i+2, row[idx])
			}
			out.Set(i, j, v)
		}
	}
	return out, nil
}

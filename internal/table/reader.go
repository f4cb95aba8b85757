package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Options controls how raw files are read.
type Options struct {
	// Delimiter for CSV. If 0, picks '\t' for .tsv files and ',' otherwise.
	Delimiter rune
	// SheetName selects an XLSX sheet by name (case-insensitive).
	SheetName string
	// SheetIndex is a 1-based sheet position used when SheetName is empty.
	SheetIndex int
}

// Reader loads a raw table from a file on disk.
type Reader interface {
	CanRead(filename string) bool
	Read(path string, opt Options) (*Table, error)
}

var registry []Reader

// Register adds a reader implementation to the registry.
func Register(r Reader) {
	registry = append(registry, r)
}

// ErrUnsupported indicates no registered reader handles the file.
var ErrUnsupported = errors.New("unsupported data format")

// Read selects a reader based on filename. Fully blank rows are dropped.
func Read(path string, opt Options) (*Table, error) {
	for _, r := range registry {
		if r.CanRead(path) {
			return r.Read(path, opt)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
}

func init() {
	Register(csvReader{})
	Register(xlsxReader{})
}

type csvReader struct{}

func (csvReader) CanRead(filename string) bool {
	name := strings.ToLower(filename)
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".tsv") || strings.HasSuffix(name, ".txt")
}

func (csvReader) Read(path string, opt Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(path)
	}
	return ReadCSV(f, filepath.Base(path), delim)
}

// ReadCSV reads delimited text with a header row.
func ReadCSV(r io.Reader, name string, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if delim != 0 {
		cr.Comma = delim
	}
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{Name: name}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := cleanHeader(header)
	var rows [][]string
	line := 1
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		line++
		if blank(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return New(name, cols, rows), nil
}

func sniffDelimiter(path string) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	return ','
}

type xlsxReader struct{}

func (xlsxReader) CanRead(filename string) bool {
	name := strings.ToLower(filename)
	return strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xlsm")
}

func (xlsxReader) Read(path string, opt Options) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook '%s' has no sheets", filepath.Base(path))
	}
	sheet := ""
	if opt.SheetName != "" {
		for _, s := range sheets {
			if strings.EqualFold(s, opt.SheetName) {
				sheet = s
				break
			}
		}
		if sheet == "" {
			return nil, fmt.Errorf("sheet '%s' not found in workbook '%s'.\nAvailable sheets: %s",
				opt.SheetName, filepath.Base(path), strings.Join(sheets, ", "))
		}
	} else {
		idx := opt.SheetIndex
		if idx <= 0 {
			idx = 1
		}
		if idx > len(sheets) {
			return nil, fmt.Errorf("sheet index %d out of range (workbook has %d sheets)", idx, len(sheets))
		}
		sheet = sheets[idx-1]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return &Table{Name: filepath.Base(path)}, nil
	}
	cols := cleanHeader(rows[0])
	var body [][]string
	for _, r := range rows[1:] {
		if blank(r) {
			continue
		}
		body = append(body, r)
	}
	return New(filepath.Base(path), cols, body), nil
}

// cleanHeader trims names and fills empty header cells so every column stays addressable.
func cleanHeader(h []string) []string {
	out := make([]string, len(h))
	for i, c := range h {
		c = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
		if c == "" {
			c = fmt.Sprintf("column_%d", i+1)
		}
		out[i] = c
	}
	return out
}

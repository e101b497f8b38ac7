package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// utf8BOM lets spreadsheet apps detect Hangul text in the file.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Dataset is one tabular export. Rows are keyed by header.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders a Dataset as UTF-8 CSV.
type CSVExporter struct {
	bom bool
}

// NewCSVExporter builds a CSV exporter that prefixes a byte order mark.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{bom: true}
}

// Render produces CSV bytes for the dataset. Multi-line cells are quoted by encoding/csv.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	if e.bom {
		buf.Write(utf8BOM)
	}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	utf8FontFamily = "counsel"
	pageWidth      = 190.0
	labelWidth     = 45.0
)

// PDFExporter renders a dataset as one block per row. The core PDF fonts only cover Latin-1,
// so Hangul text needs a UTF-8 TrueType font file.
type PDFExporter struct {
	fontPath string
}

// NewPDFExporter constructs a PDF exporter. fontPath may be empty.
func NewPDFExporter(fontPath string) *PDFExporter {
	return &PDFExporter{fontPath: strings.TrimSpace(fontPath)}
}

// Render creates the PDF with a label/value block per row.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)

	family := "Arial"
	if e.fontPath != "" {
		pdf.AddUTF8Font(utf8FontFamily, "", e.fontPath)
		if pdf.Err() {
			return nil, fmt.Errorf("load pdf font %s: %w", e.fontPath, pdf.Error())
		}
		family = utf8FontFamily
	}
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont(family, "", 14)
		pdf.CellFormat(0, 10, data.Title, "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetFont(family, "", 9)
	for i, row := range data.Rows {
		if i > 0 {
			pdf.Ln(3)
		}
		for _, header := range data.Headers {
			value := strings.TrimSpace(row[header])
			if value == "" {
				value = "-"
			}
			pdf.SetFillColor(240, 240, 240)
			y := pdf.GetY()
			pdf.MultiCell(labelWidth, 6, header, "1", "L", true)
			labelBottom := pdf.GetY()
			pdf.SetXY(10+labelWidth, y)
			pdf.MultiCell(pageWidth-labelWidth, 6, value, "1", "L", false)
			if pdf.GetY() < labelBottom {
				pdf.SetY(labelBottom)
			}
		}
	}

	if pdf.Err() {
		return nil, fmt.Errorf("render pdf: %w", pdf.Error())
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

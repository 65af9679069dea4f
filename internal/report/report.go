// Package report renders analysis records into paginated PDF documents with a
// fixed A4 layout. Output is a byte stream; callers own persistence and
// transport.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/example/retina-check/internal/repository"
)

// ErrEmptyReport indicates there were no records to render.
var ErrEmptyReport = errors.New("no records to render")

// Fixed page geometry, in points on portrait A4. The y axis grows downward
// from the top-left corner.
const (
	marginLeft   = 72.0
	topY         = 72.0
	bottomMargin = 72.0

	colDateX   = 72.0
	colStatusX = 220.0
	colScoreX  = 400.0

	// Vertical gap after the table head and between consecutive rows.
	headGap = 18.0
	rowStep = 16.0
)

const (
	statusPositive = "Retinopathy suspected"
	statusNegative = "No signs of retinopathy"
)

// RenderSingle produces a one-page report for a single analysis record.
func RenderSingle(record *repository.AnalysisRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(marginLeft, topY, "Retinal Analysis Report")

	pdf.SetFont("Helvetica", "", 11)
	pdf.Text(marginLeft, 110, fmt.Sprintf("Examination date: %s", formatTimestamp(record.CreatedAt)))
	pdf.Text(marginLeft, 130, fmt.Sprintf("Result: %s", statusText(record.Label)))
	if record.Score != nil {
		pdf.Text(marginLeft, 150, fmt.Sprintf("Model score (p): %.2f", *record.Score))
	}

	return output(pdf)
}

// RenderBatch produces a chronological report over all given records with the
// table head repeated at the top of every page. Callers pass records oldest
// first so the document reads like a log.
func RenderBatch(displayName string, records []repository.AnalysisRecord) ([]byte, error) {
	pdf, err := buildBatch(displayName, records)
	if err != nil {
		return nil, err
	}
	return output(pdf)
}

// buildBatch is split out so tests can inspect pagination on the document
// before serialization.
func buildBatch(displayName string, records []repository.AnalysisRecord) (*gofpdf.Fpdf, error) {
	if len(records) == 0 {
		return nil, ErrEmptyReport
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	_, pageHeight := pdf.GetPageSize()
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(marginLeft, topY, "Retinal Analysis Summary Report")

	pdf.SetFont("Helvetica", "", 11)
	pdf.Text(marginLeft, 100, fmt.Sprintf("User: %s", displayName))
	pdf.Text(marginLeft, 116, fmt.Sprintf("Examinations: %d", len(records)))

	y := 150.0
	drawTableHead(pdf, y)
	y += headGap

	for i := range records {
		// A row whose baseline would land below the bottom margin starts
		// a new page.
		if y > pageHeight-bottomMargin {
			pdf.AddPage()
			y = topY
			drawTableHead(pdf, y)
			y += headGap
		}

		record := &records[i]
		pdf.Text(colDateX, y, formatTimestamp(record.CreatedAt))
		pdf.Text(colStatusX, y, statusText(record.Label))
		pdf.Text(colScoreX, y, scoreText(record.Score))
		y += rowStep
	}

	if pdf.Err() {
		return nil, pdf.Error()
	}
	return pdf, nil
}

func drawTableHead(pdf *gofpdf.Fpdf, y float64) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Text(colDateX, y, "Examination date")
	pdf.Text(colStatusX, y, "Result")
	pdf.Text(colScoreX, y, "Model score")
	pdf.SetFont("Helvetica", "", 11)
}

func statusText(label int) string {
	if label == 1 {
		return statusPositive
	}
	return statusNegative
}

func scoreText(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *score)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

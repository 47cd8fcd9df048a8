package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-pdf/fpdf"
)

// PDF layout in millimetres on an A4 portrait page.
const (
	pdfTitle      = "eDuit Raya Distribution List"
	pdfMargin     = 20.0
	pdfTop        = 30.0
	pdfPageBottom = 270.0
	pdfRowHeight  = 8.0

	nameWidth = 15
	noteWidth = 12
	idWidth   = 15
)

// Column offsets from the left margin.
var pdfColumns = [4]float64{0, 60, 100, 140}

// PDFSink writes a paginated distribution list.
type PDFSink struct{}

func (PDFSink) Format() Format { return PDF }

func (PDFSink) Write(w io.Writer, t Table) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(pdfTitle, true)
	pdf.SetCreationDate(t.ExportDate)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()

	y := pdfTop
	pdf.SetFont("Helvetica", "B", 20)
	pdf.Text((pageWidth-pdf.GetStringWidth(pdfTitle))/2, y, pdfTitle)
	y += 20

	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(pdfMargin, y, "Total Recipients: "+strconv.Itoa(t.Count()))
	y += 8
	pdf.Text(pdfMargin, y, "Total Amount: "+t.Total.Label())
	y += 8
	pdf.Text(pdfMargin, y, "Export Date: "+t.ExportDate.Format(DateLayout))
	y += 20

	pdf.SetFont("Helvetica", "B", 12)
	for i, h := range []string{"Name", "Amount", "Note", "DuitNow ID"} {
		pdf.Text(pdfMargin+pdfColumns[i], y, h)
	}
	y += 10
	pdf.Line(pdfMargin, y-2, pageWidth-pdfMargin, y-2)
	y += 5

	pdf.SetFont("Helvetica", "", 12)
	for _, r := range t.Recipients {
		if y > pdfPageBottom {
			pdf.AddPage()
			y = pdfTop
		}
		cells := []string{
			truncate(r.Name, nameWidth),
			r.Amount.Label(),
			truncate(r.Note, noteWidth),
			truncate(r.DuitnowID, idWidth),
		}
		for i, c := range cells {
			pdf.Text(pdfMargin+pdfColumns[i], y, tr(c))
		}
		y += pdfRowHeight
	}

	y += 10
	pdf.Line(pdfMargin, y, pageWidth-pdfMargin, y)
	y += 10
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(pdfMargin, y, "TOTAL: "+t.Total.Label())

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}

// truncate shortens s to n runes followed by "..." when it is longer.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

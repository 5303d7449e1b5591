package pdf

import (
	"strings"

	"github.com/phpdave11/gofpdf"
)

const ptToMM = 25.4 / 72

// measurer wraps text to a width using the metrics of the core fonts
// maroto draws with.
type measurer interface {
	Wrap(text string, bold bool, size, width float64) []string
	Width(text string, bold bool, size float64) float64
}

type fontMetrics struct {
	pdf *gofpdf.Fpdf
}

// newFontMetrics is not safe for concurrent use; build one per render.
func newFontMetrics() *fontMetrics {
	return &fontMetrics{pdf: gofpdf.New("P", "mm", "A4", "")}
}

func (m *fontMetrics) use(bold bool, size float64) {
	style := ""
	if bold {
		style = "B"
	}
	m.pdf.SetFont("Helvetica", style, size)
}

func (m *fontMetrics) Width(text string, bold bool, size float64) float64 {
	m.use(bold, size)
	return m.pdf.GetStringWidth(text)
}

func (m *fontMetrics) Wrap(text string, bold bool, size, width float64) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	m.use(bold, size)

	lines := m.pdf.SplitText(text, width)
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// lineHeight is the row height for one wrapped line at a font size in points.
func lineHeight(size float64) float64 {
	return size * ptToMM * 1.4
}

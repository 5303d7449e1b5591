package pdf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
)

const gridSize = 12

var (
	colorAccent  = props.Color{Red: 99, Green: 102, Blue: 241}
	colorDanger  = props.Color{Red: 239, Green: 68, Blue: 68}
	colorHigh    = props.Color{Red: 220, Green: 38, Blue: 38}
	colorWarning = props.Color{Red: 245, Green: 158, Blue: 11}
	colorLow     = props.Color{Red: 59, Green: 130, Blue: 246}
	colorSuccess = props.Color{Red: 34, Green: 197, Blue: 94}
	colorMuted   = props.Color{Red: 115, Green: 115, Blue: 130}
	colorDark    = props.Color{Red: 15, Green: 15, Blue: 25}
	colorDivider = props.Color{Red: 230, Green: 230, Blue: 235}
	colorWhite   = props.Color{Red: 255, Green: 255, Blue: 255}
)

func scoreColor(score int) props.Color {
	switch {
	case score >= 80:
		return colorSuccess
	case score >= 50:
		return colorWarning
	default:
		return colorDanger
	}
}

func severityColor(s auditdomain.Severity) props.Color {
	switch s {
	case auditdomain.SeverityCritical:
		return colorDanger
	case auditdomain.SeverityHigh:
		return colorHigh
	case auditdomain.SeverityMedium:
		return colorWarning
	case auditdomain.SeverityLow:
		return colorLow
	default:
		return colorMuted
	}
}

type textStyle struct {
	size  float64
	bold  bool
	color props.Color
	align align.Type
}

var (
	styleBody    = textStyle{size: 10, color: colorMuted}
	styleDark    = textStyle{size: 10, color: colorDark}
	styleSmall   = textStyle{size: 9, color: colorMuted}
	styleLabel   = textStyle{size: 9, bold: true, color: colorDark}
	styleTitle   = textStyle{size: 11, bold: true, color: colorDark}
	styleHeading = textStyle{size: 14, bold: true, color: colorDark}
)

func (s textStyle) props() props.Text {
	style := fontstyle.Normal
	if s.bold {
		style = fontstyle.Bold
	}
	c := s.color
	a := s.align
	if a == "" {
		a = align.Left
	}
	return props.Text{Size: s.size, Style: style, Color: &c, Align: a, Top: 0.6}
}

func (s textStyle) withColor(c props.Color) textStyle {
	s.color = c
	return s
}

func (s textStyle) lineHeight() float64 {
	return lineHeight(s.size)
}

// spanWidth is the drawable width of a column span, less a small gutter so
// wrapped lines never trigger maroto's own line breaking.
func (l Layout) spanWidth(span int) float64 {
	return l.Width*float64(span)/gridSize - 1
}

func filled(span int, bg props.Color, value string, s textStyle) core.Col {
	s.color = colorWhite
	s.align = align.Center
	return col.New(span).Add(text.New(value, s.props())).WithStyle(&props.Cell{BackgroundColor: &bg})
}

func spacer(h float64) sizedRow {
	return sizedRow{height: h, row: row.New(h)}
}

func rule(h float64, c props.Color, thickness float64) sizedRow {
	return sizedRow{height: h, row: row.New(h).Add(line.NewCol(gridSize, props.Line{Color: &c, Thickness: thickness}))}
}

// paragraph wraps value into one row per line, drawn in the column span
// after an optional leading column. lead is only drawn on the first line.
func paragraph(l Layout, m measurer, value string, s textStyle, leadSpan int, lead core.Col) []sizedRow {
	span := gridSize - leadSpan
	lines := m.Wrap(value, s.bold, s.size, l.spanWidth(span))
	h := s.lineHeight()

	out := make([]sizedRow, 0, len(lines))
	for i, ln := range lines {
		cols := make([]core.Col, 0, 2)
		if leadSpan > 0 {
			if i == 0 && lead != nil {
				cols = append(cols, lead)
			} else {
				cols = append(cols, col.New(leadSpan))
			}
		}
		cols = append(cols, text.NewCol(span, ln, s.props()))
		out = append(out, sizedRow{height: h, row: row.New(h).Add(cols...)})
	}
	return out
}

func heading(title string, c props.Color) sizedRow {
	h := 8.0
	return sizedRow{height: h, row: row.New(h).Add(text.NewCol(gridSize, title, styleHeading.withColor(c).props()))}
}

// section places a heading kept together with the first row that follows.
func section(l Layout, title string, c props.Color, first []sizedRow) Layout {
	head := heading(title, c)
	need := head.height
	if len(first) > 0 {
		need += first[0].height
	}
	l = l.Ensure(need)
	return l.Place(head)
}

func drawHeader(l Layout) Layout {
	mark := filled(1, colorAccent, "V", textStyle{size: 16, bold: true})
	brand := col.New(gridSize-1).Add(
		text.New("Viotraix", textStyle{size: 22, bold: true, color: colorDark}.props()),
		text.New("AI Workplace Safety Audit Report", props.Text{Size: 10, Color: &colorMuted, Top: 9.5, Left: 2}),
	)
	l = l.Place(sizedRow{height: 14, row: row.New(14).Add(mark, brand)})
	l = l.Place(rule(3, colorAccent, 0.7))
	return l.Place(spacer(4))
}

func drawInfo(l Layout, lines []string) Layout {
	h := 5.6
	for _, value := range lines {
		l = l.Place(sizedRow{height: h, row: row.New(h).Add(text.NewCol(gridSize, value, styleBody.props()))})
	}
	return l.Place(spacer(2))
}

func drawScore(l Layout, score int) Layout {
	badge := filled(4, scoreColor(score), fmt.Sprintf("Score: %d/100", score), textStyle{size: 16, bold: true})
	l = l.Place(sizedRow{height: 11, row: row.New(11).Add(badge, col.New(gridSize-4))})
	return l.Place(spacer(6))
}

func drawSummary(l Layout, m measurer, summary string) Layout {
	rows := paragraph(l, m, summary, styleBody, 0, nil)
	l = section(l, "Summary", colorDark, rows)
	l = l.PlaceAll(rows)
	return l.Place(spacer(4))
}

func drawPriorityFixes(l Layout, m measurer, fixes []string) Layout {
	if len(fixes) == 0 {
		return l
	}
	for i, fix := range fixes {
		rows := paragraph(l, m, fix, styleDark, 1, filled(1, colorAccent, strconv.Itoa(i+1), textStyle{size: 9, bold: true}))
		if i == 0 {
			l = section(l, "Priority Fixes", colorAccent, rows)
		}
		l = l.PlaceAll(rows)
		l = l.Place(spacer(1.5))
	}
	return l.Place(spacer(3))
}

// violationCard builds every row of one violation so the card can be
// measured before it is placed.
func violationCard(l Layout, m measurer, v auditdomain.Violation) []sizedRow {
	badgeH := 6.5
	badge := filled(2, severityColor(v.Severity), strings.ToUpper(string(v.Severity)), textStyle{size: 8, bold: true})
	category := text.NewCol(gridSize-2, v.Category.Label(), props.Text{Size: 8, Color: &colorMuted, Left: 2, Top: 1.5})

	rows := []sizedRow{{height: badgeH, row: row.New(badgeH).Add(badge, category)}, spacer(2)}
	rows = append(rows, paragraph(l, m, v.Title, styleTitle, 0, nil)...)
	rows = append(rows, spacer(0.8))
	rows = append(rows, paragraph(l, m, v.Description, styleSmall, 0, nil)...)
	rows = append(rows, spacer(1.5))

	if loc := strings.TrimSpace(v.Location); loc != "" {
		rows = append(rows, paragraph(l, m, loc, styleSmall, 3, text.NewCol(3, "Location:", styleLabel.props()))...)
	}
	if rec := strings.TrimSpace(v.Recommendation); rec != "" {
		h := styleLabel.lineHeight()
		rows = append(rows, sizedRow{height: h, row: row.New(h).Add(text.NewCol(gridSize, "Recommendation:", styleLabel.props()))})
		rows = append(rows, paragraph(l, m, rec, styleSmall, 0, nil)...)
		rows = append(rows, spacer(1.5))
	}
	if v.RegulatoryReference != nil {
		if ref := strings.TrimSpace(*v.RegulatoryReference); ref != "" {
			label := text.NewCol(3, "Regulatory Ref:", styleLabel.withColor(colorAccent).props())
			rows = append(rows, paragraph(l, m, ref, styleSmall.withColor(colorAccent), 3, label)...)
		}
	}

	rows = append(rows, spacer(1.5), rule(3, colorDivider, 0.2), spacer(2))
	return rows
}

func drawViolations(l Layout, m measurer, violations []auditdomain.Violation) Layout {
	if len(violations) == 0 {
		return l
	}
	for i, v := range violations {
		card := violationCard(l, m, v)
		if i == 0 {
			l = section(l, fmt.Sprintf("Violations (%d)", len(violations)), colorDark, card)
		}
		l = l.KeepTogether(card)
	}
	return l
}

func drawCompliant(l Layout, m measurer, areas []string) Layout {
	if len(areas) == 0 {
		return l
	}
	for i, area := range areas {
		rows := paragraph(l, m, area, styleDark, 1, filled(1, colorSuccess, "OK", textStyle{size: 7, bold: true}))
		if i == 0 {
			l = section(l, "Compliant Areas", colorSuccess, rows)
		}
		l = l.PlaceAll(rows)
		l = l.Place(spacer(1))
	}
	return l
}

func footerRows(generated string) []core.Row {
	return []core.Row{
		row.New(3).Add(line.NewCol(gridSize, props.Line{Color: &colorAccent, Thickness: 0.35})),
		row.New(5).Add(text.NewCol(9, "Generated by Viotraix - AI Workplace Safety Audits | "+generated, props.Text{Size: 8, Color: &colorMuted})),
	}
}

package pdf

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/page"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	"go.uber.org/zap"
)

// A4 portrait, millimetres.
const (
	pageWidth    = 210.0
	pageHeight   = 297.0
	marginSide   = 17.0
	marginTop    = 17.0
	marginBottom = 12.0
	footerHeight = 8.0
	// slack keeps rounding in maroto from pushing a full page over.
	slack = 1.5
)

const (
	infoDateLayout   = "January 2, 2006, 03:04 PM"
	footerDateLayout = "January 2, 2006"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// FileName is the download name for an audit report.
func FileName(source string) string {
	return "viotraix-audit-" + unsafeFileChars.ReplaceAllString(source, "_") + ".pdf"
}

type marotoRenderer struct {
	log *zap.Logger
}

func (r *marotoRenderer) RenderAudit(result auditdomain.AuditResult, meta AuditMeta, generatedAt time.Time) (Report, error) {
	l := composeReport(newFontMetrics(), result, meta)

	cfg := config.NewBuilder().
		WithLeftMargin(marginSide).
		WithRightMargin(marginSide).
		WithTopMargin(marginTop).
		WithBottomMargin(marginBottom).
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
			Size:    8,
			Color:   &colorMuted,
		}).
		Build()

	m := maroto.New(cfg)
	if err := m.RegisterFooter(footerRows(generatedAt.UTC().Format(footerDateLayout))...); err != nil {
		return Report{}, fmt.Errorf("register footer: %w", err)
	}
	m.AddPages(l.marotoPages()...)

	doc, err := m.Generate()
	if err != nil {
		r.log.Error("render audit report", zap.String("file_name", meta.FileName), zap.Error(err))
		return Report{}, fmt.Errorf("generate pdf: %w", err)
	}
	return Report{FileName: FileName(meta.FileName), Content: doc.GetBytes()}, nil
}

func newReportLayout() Layout {
	usable := pageHeight - marginTop - marginBottom - footerHeight - slack
	return NewLayout(usable, pageWidth-2*marginSide)
}

// composeReport lays out every block in order and returns the final layout.
func composeReport(m measurer, result auditdomain.AuditResult, meta AuditMeta) Layout {
	industry := strings.TrimSpace(result.IndustryDetected)
	if industry == "" {
		industry = meta.Industry
	}

	l := newReportLayout()
	l = drawHeader(l)
	l = drawInfo(l, []string{
		"File: " + meta.FileName,
		"Industry: " + industry,
		"Date: " + meta.CreatedAt.UTC().Format(infoDateLayout),
	})
	l = drawScore(l, result.OverallScore)
	l = drawSummary(l, m, result.Summary)
	l = drawPriorityFixes(l, m, result.PriorityFixes)
	l = drawViolations(l, m, result.Violations)
	l = drawCompliant(l, m, result.CompliantAreas)
	return l
}

func (l Layout) marotoPages() []core.Page {
	out := make([]core.Page, 0, len(l.pages))
	for _, p := range l.pages {
		out = append(out, page.New().Add(p.rows...))
	}
	return out
}

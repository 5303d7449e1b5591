package pdf

import (
	"time"

	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AuditMeta is the audit row data printed next to the analysis result.
type AuditMeta struct {
	FileName  string
	Industry  string
	CreatedAt time.Time
}

type Report struct {
	FileName string
	Content  []byte
}

type Renderer interface {
	RenderAudit(result auditdomain.AuditResult, meta AuditMeta, generatedAt time.Time) (Report, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

func New(log *zap.Logger) Renderer {
	return &marotoRenderer{log: log.Named("pdf.renderer")}
}

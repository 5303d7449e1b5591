package providers

import (
	"github.com/smallbiznis/viotraix/internal/providers/email"
	"github.com/smallbiznis/viotraix/internal/providers/pdf"
	"github.com/smallbiznis/viotraix/internal/providers/vision"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	vision.Module,
)

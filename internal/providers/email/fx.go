package email

import (
	"strings"

	"github.com/smallbiznis/viotraix/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig picks the provider named by EMAIL_PROVIDER, or the first
// one with credentials present. Without credentials mail is only logged.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	ec := cfg.Email
	from := Sender{Name: ec.FromName, Address: ec.From}

	name := ec.Provider
	if name == "" {
		switch {
		case ec.ResendAPIKey != "":
			name = ProviderResend
		case ec.SendGridAPIKey != "":
			name = ProviderSendGrid
		case strings.TrimSpace(ec.SMTPHost) != "":
			name = ProviderSMTP
		default:
			name = ProviderLog
		}
	}

	var p Provider
	switch name {
	case ProviderResend:
		p = NewResend(ec.ResendAPIKey, ec.ResendBaseURL, from)
	case ProviderSendGrid:
		p = NewSendGrid(ec.SendGridAPIKey, from)
	case ProviderSMTP:
		p = NewSMTP(SMTPConfig{
			Host:     ec.SMTPHost,
			Port:     ec.SMTPPort,
			Username: ec.SMTPUsername,
			Password: ec.SMTPPassword,
			From:     from,
		})
	default:
		if name != ProviderLog {
			log.Warn("unknown email provider, falling back to log", zap.String("provider", name))
		}
		p = NewLog(log)
	}

	log.Info("email provider selected", zap.String("provider", p.Name()))
	return p
}

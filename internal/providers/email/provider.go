package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	ProviderResend   = "resend"
	ProviderSendGrid = "sendgrid"
	ProviderSMTP     = "smtp"
	ProviderLog      = "log"
)

var (
	ErrNoRecipients = errors.New("no_recipients")
	ErrSendFailed   = errors.New("email_send_failed")
)

type Provider interface {
	Name() string
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

// Sender identifies the From header shared by every provider.
type Sender struct {
	Name    string
	Address string
}

func (s Sender) String() string {
	if strings.TrimSpace(s.Name) == "" {
		return s.Address
	}
	return fmt.Sprintf("%s <%s>", s.Name, s.Address)
}

// LogProvider records outgoing mail instead of delivering it. It is used
// when no delivery credentials are configured.
type LogProvider struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Name() string { return ProviderLog }

func (p *LogProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	p.log.Info("email not delivered, no provider configured",
		zap.Strings("to", to),
		zap.String("subject", subject),
	)
	return nil
}

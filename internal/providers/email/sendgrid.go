package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridHost = "https://api.sendgrid.com"

type SendGridProvider struct {
	apiKey string
	host   string
	from   Sender
}

func NewSendGrid(apiKey string, from Sender) *SendGridProvider {
	return &SendGridProvider{apiKey: apiKey, host: sendGridHost, from: from}
}

func (p *SendGridProvider) Name() string { return ProviderSendGrid }

func (p *SendGridProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(p.from.Name, p.from.Address))
	message.Subject = subject

	personalization := mail.NewPersonalization()
	for _, addr := range to {
		personalization.AddTos(mail.NewEmail("", addr))
	}
	message.AddPersonalizations(personalization)
	message.AddContent(mail.NewContent("text/html", htmlBody))

	req := sendgrid.GetRequest(p.apiKey, "/v3/mail/send", p.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(message)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sendgrid status %d: %s", ErrSendFailed, resp.StatusCode, resp.Body)
	}
	return nil
}

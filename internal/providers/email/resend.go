package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// ResendProvider delivers through the Resend HTTP API. Every send carries
// a fresh Idempotency-Key so client retries never duplicate a message.
type ResendProvider struct {
	apiKey  string
	baseURL string
	from    Sender
	client  *http.Client
}

func NewResend(apiKey, baseURL string, from Sender) *ResendProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &ResendProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		from:    from,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *ResendProvider) Name() string { return ProviderResend }

func (p *ResendProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	payload, err := json.Marshal(resendRequest{
		From:    p.from.String(),
		To:      to,
		Subject: subject,
		HTML:    htmlBody,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ulid.Make().String())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: resend status %d: %s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

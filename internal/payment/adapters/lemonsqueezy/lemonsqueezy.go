package lemonsqueezy

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/viotraix/internal/payment/domain"
)

const signatureHeader = "X-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderLemonSqueezy
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks X-Signature, the hex HMAC-SHA256 of the raw body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type webhookPayload struct {
	Meta struct {
		EventName  string `json:"event_name"`
		CustomData struct {
			UserID string `json:"user_id"`
			Tier   string `json:"tier"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         flexString `json:"id"`
		Type       string     `json:"type"`
		Attributes struct {
			VariantID  flexString `json:"variant_id"`
			CustomerID flexString `json:"customer_id"`
			UserEmail  string     `json:"user_email"`
			CreatedAt  string     `json:"created_at"`
			RenewsAt   string     `json:"renews_at"`
		} `json:"attributes"`
	} `json:"data"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.BillingEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	userID := strings.TrimSpace(body.Meta.CustomData.UserID)
	if userID == "" {
		return nil, paymentdomain.ErrMissingUser
	}

	attrs := body.Data.Attributes
	return &paymentdomain.BillingEvent{
		Provider:   paymentdomain.ProviderLemonSqueezy,
		EventName:  strings.TrimSpace(body.Meta.EventName),
		UserID:     userID,
		Tier:       strings.ToLower(strings.TrimSpace(body.Meta.CustomData.Tier)),
		UserEmail:  strings.TrimSpace(attrs.UserEmail),
		ObjectID:   string(body.Data.ID),
		VariantID:  string(attrs.VariantID),
		CustomerID: string(attrs.CustomerID),
		CreatedAt:  parseTime(attrs.CreatedAt),
		RenewsAt:   parseTime(attrs.RenewsAt),
		RawPayload: payload,
	}, nil
}

// flexString accepts ids sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

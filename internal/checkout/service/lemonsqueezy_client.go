package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/viotraix/internal/checkout/domain"
)

const jsonAPIContentType = "application/vnd.api+json"

type resourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type checkoutRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			CheckoutData struct {
				Email  string            `json:"email,omitempty"`
				Custom map[string]string `json:"custom"`
			} `json:"checkout_data"`
			ProductOptions struct {
				RedirectURL string `json:"redirect_url"`
			} `json:"product_options"`
		} `json:"attributes"`
		Relationships struct {
			Store struct {
				Data resourceRef `json:"data"`
			} `json:"store"`
			Variant struct {
				Data resourceRef `json:"data"`
			} `json:"variant"`
		} `json:"relationships"`
	} `json:"data"`
}

type checkoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

type lemonSqueezyClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newLemonSqueezyClient(apiKey, baseURL string) *lemonSqueezyClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.lemonsqueezy.com/v1"
	}
	return &lemonSqueezyClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *lemonSqueezyClient) createCheckout(ctx context.Context, storeID, variantID, redirectURL string, req domain.Request) (string, error) {
	var body checkoutRequest
	body.Data.Type = "checkouts"
	body.Data.Attributes.CheckoutData.Email = req.Email
	body.Data.Attributes.CheckoutData.Custom = map[string]string{
		"user_id": req.UserID,
		"tier":    req.Tier,
	}
	body.Data.Attributes.ProductOptions.RedirectURL = redirectURL
	body.Data.Relationships.Store.Data = resourceRef{Type: "stores", ID: storeID}
	body.Data.Relationships.Variant.Data = resourceRef{Type: "variants", ID: variantID}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkouts", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", jsonAPIContentType)
	httpReq.Header.Set("Accept", jsonAPIContentType)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCheckoutFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrCheckoutFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCheckoutFailed, err)
	}
	return decoded.Data.Attributes.URL, nil
}

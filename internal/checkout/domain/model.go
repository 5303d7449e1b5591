package domain

import (
	"context"
	"errors"
)

type Request struct {
	UserID string
	Email  string
	Tier   string
}

type Result struct {
	CheckoutURL string `json:"checkoutUrl"`
}

type Service interface {
	// Create opens a hosted checkout for a tier and returns its URL.
	Create(ctx context.Context, req Request) (Result, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidTier    = errors.New("invalid_tier")
	ErrNotConfigured  = errors.New("payment_configuration_missing")
	ErrCheckoutFailed = errors.New("checkout_failed")
)

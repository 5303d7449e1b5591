// Package vision calls an OpenAI-compatible chat completions endpoint with
// image inputs and decodes the safety report it returns.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/viotraix/internal/audit/domain"
	"github.com/smallbiznis/viotraix/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	maxTokens   = 4096
	temperature = 0.3
	imageDetail = "high"
)

var (
	ErrNotConfigured = errors.New("vision_not_configured")
	ErrNoImages      = errors.New("vision_no_images")
	ErrEmptyResponse = errors.New("vision_empty_response")
	ErrBadResponse   = errors.New("vision_bad_response")
)

type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	log     *zap.Logger
}

// New builds a client from configuration. The per-call deadline comes from
// the caller's context; the http.Client timeout is only a backstop.
func New(cfg config.Config, log *zap.Logger) *Client {
	timeout := cfg.Vision.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	model := strings.TrimSpace(cfg.Vision.Model)
	if model == "" {
		model = "gpt-4o"
	}
	return &Client{
		apiKey:  cfg.Vision.APIKey,
		baseURL: strings.TrimRight(cfg.Vision.BaseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout + 10*time.Second},
		log:     log.Named("vision.client"),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Analyze sends the images with the instruction prompt and returns the
// validated result.
func (c *Client) Analyze(ctx context.Context, images []string, industryHint string) (*auditdomain.AuditResult, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, ErrNotConfigured
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	ctx, span := otel.Tracer("viotraix/vision").Start(ctx, "vision.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("vision.model", c.model),
		attribute.Int("vision.images", len(images)),
	)

	result, err := c.analyze(ctx, images, industryHint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("vision.violations", len(result.Violations)))
	return result, nil
}

func (c *Client) analyze(ctx context.Context, images []string, industryHint string) (*auditdomain.AuditResult, error) {
	parts := make([]contentPart, 0, len(images)+1)
	parts = append(parts, contentPart{Type: "text", Text: buildPrompt(industryHint, len(images))})
	for _, url := range images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url, Detail: imageDetail}})
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("vision api status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("vision api status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	c.log.Debug("vision response received",
		zap.Duration("latency", time.Since(started)),
		zap.Int("prompt_tokens", decoded.Usage.PromptTokens),
		zap.Int("completion_tokens", decoded.Usage.CompletionTokens),
	)

	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}
	return ParseResult(decoded.Choices[0].Message.Content)
}

// ParseResult decodes model output into a validated AuditResult.
func ParseResult(content string) (*auditdomain.AuditResult, error) {
	var result auditdomain.AuditResult
	if err := json.Unmarshal([]byte(stripFences(content)), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if err := result.Normalize(); err != nil {
		return nil, err
	}
	return &result, nil
}

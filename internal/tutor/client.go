// Package tutor produces the AI tutoring partner's lines through an
// OpenAI-compatible responses endpoint.
package tutor

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"semaphore/liveclass/internal/metrics"
)

//go:generate mockgen -destination=mocks/mock_generator.go -package=mocks semaphore/liveclass/internal/tutor Generator

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var ErrNotConfigured = errors.New("tutor: generator not configured")

type Config struct {
	ResponsesURL string
	APIKey       string
	Model        string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

type Client struct {
	cfg Config
}

// NewClient returns a client for the responses endpoint. Without an API key
// every call fails with ErrNotConfigured.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = "https://api.openai.com/v1/responses"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) Generate(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := otel.Tracer("semaphore/liveclass/tutor").Start(ctx, "tutor.Generate")
	span.SetAttributes(attribute.String("tutor.model", c.cfg.Model))
	started := time.Now()
	defer func() {
		metrics.TutorLatency.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.TutorRequests.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "generate failed")
		} else {
			metrics.TutorRequests.WithLabelValues("ok").Inc()
		}
		span.End()
	}()

	apiKey := strings.TrimSpace(c.cfg.APIKey)
	model := strings.TrimSpace(c.cfg.Model)
	prompt = strings.TrimSpace(prompt)
	if apiKey == "" {
		return "", ErrNotConfigured
	}
	if model == "" {
		return "", fmt.Errorf("model is required")
	}
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	requestBody, err := json.Marshal(map[string]any{
		"model": model,
		"input": prompt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResponsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return "", fmt.Errorf("read generate error body: %w", err)
		}
		return "", fmt.Errorf("generate request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	text = strings.TrimSpace(payload.OutputText)
	for _, item := range payload.Output {
		if text != "" {
			break
		}
		for _, content := range item.Content {
			if t := strings.TrimSpace(content.Text); t != "" {
				text = t
				break
			}
		}
	}
	if text == "" {
		return "", fmt.Errorf("generate response missing output text")
	}
	return text, nil
}

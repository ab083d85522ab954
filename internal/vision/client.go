package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lowforge/internal/config"
	"lowforge/internal/llm"
	"lowforge/internal/logging"
)

// Client talks to an OpenAI-compatible vision endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client

	retryBackoffBase time.Duration
	rateLimitDelay   time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient builds a vision client from configuration.
func NewClient(cfg *config.Config) *Client {
	v := cfg.Vision
	baseURL := v.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	mdl := v.Model
	if mdl == "" {
		mdl = "gpt-4-vision-preview"
	}
	maxTokens := v.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &Client{
		apiKey:           v.APIKey,
		baseURL:          strings.TrimRight(baseURL, "/"),
		model:            mdl,
		maxTokens:        maxTokens,
		temperature:      v.Temperature,
		httpClient:       &http.Client{Timeout: cfg.GetVisionTimeout()},
		retryBackoffBase: time.Second,
		rateLimitDelay:   100 * time.Millisecond,
	}
}

// visionMessage carries mixed text and image content parts.
type visionMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type visionRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

// callVisionAPI sends one prompt+image request and returns the reply text.
func (c *Client) callVisionAPI(ctx context.Context, base64Image, prompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()

	if c.apiKey == "" {
		logging.VisionError("[Vision] callVisionAPI: API key not configured")
		return "", fmt.Errorf("vision API key not configured")
	}

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < c.rateLimitDelay {
		time.Sleep(c.rateLimitDelay - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := visionRequest{
		Model: c.model,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{
						URL: "data:image/png;base64," + base64Image,
					}},
				},
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(c.retryBackoffBase * time.Duration(1<<uint(i-1)))
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("vision API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var chatResp llm.ChatResponse
		if err := json.Unmarshal(body, &chatResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}

		if chatResp.Error != nil {
			return "", fmt.Errorf("vision API error: %s", chatResp.Error.Message)
		}

		if len(chatResp.Choices) == 0 {
			logging.VisionError("[Vision] callVisionAPI: no completion returned")
			return "", fmt.Errorf("no completion returned")
		}

		content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
		logging.VisionDebug("[Vision] callVisionAPI: completed in %v reply_len=%d", time.Since(startTime), len(content))
		return content, nil
	}

	logging.VisionError("[Vision] callVisionAPI: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
